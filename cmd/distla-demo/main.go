/*
 *	Copyright 2024 The distla Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// distla-demo runs a distributed Cholesky factorization on an in-process
// process grid and verifies the factor by rebuilding the matrix.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/distla/distla/comm"
	"github.com/distla/distla/dblas"
	"github.com/distla/distla/dist"
	"github.com/distla/distla/grid"
	"github.com/distla/distla/internal/must"
	"github.com/distla/distla/lapack"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/blas"
	"k8s.io/klog/v2"
)

var (
	flagProcs     int
	flagSize      int
	flagBlocksize int
)

var rootCmd = &cobra.Command{
	Use:   "distla-demo",
	Short: "Factor a distributed SPD matrix with Cholesky and verify A = L*Lᵀ",
	RunE: func(_ *cobra.Command, _ []string) error {
		return comm.Run(flagProcs, demo)
	},
}

func demo(c comm.Comm) {
	g := grid.New(c)
	n := flagSize
	opts := lapack.Options{Blocksize: flagBlocksize}

	// The "min" matrix A(i,j) = min(i,j)+1 is symmetric positive definite.
	a := dist.NewShaped[float64](g, dist.MCMR, n, n)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			a.Set(i, j, float64(min(i, j)+1))
		}
	}

	l := dist.New[float64](g, dist.MCMR)
	l.CopyFrom(a)
	must.M(lapack.Cholesky(blas.Lower, l, opts))
	l.MakeTrapezoidal(blas.Left, blas.Lower, 0)

	check := dist.NewShaped[float64](g, dist.MCMR, n, n)
	dblas.Herk(blas.Lower, 1, l, 0, check, dblas.Options{Blocksize: opts.Blocksize})

	var residual float64
	for j := 0; j < n; j++ {
		for i := j; i < n; i++ {
			residual = math.Max(residual, math.Abs(check.Get(i, j)-a.Get(i, j)))
		}
	}
	klog.V(1).Infof("rank %d: grid %s, residual %g", c.Rank(), g, residual)

	if n <= 12 {
		a.Print(os.Stdout, "A")
		l.Print(os.Stdout, "L")
	}
	if g.VCRank() == 0 {
		fmt.Printf("Cholesky of %dx%d min-matrix on %dx%d grid: max |L*Lᵀ - A| = %g\n",
			n, n, g.Height(), g.Width(), residual)
	}
}

func main() {
	klog.InitFlags(nil)
	rootCmd.Flags().AddGoFlagSet(flag.CommandLine)
	rootCmd.Flags().IntVarP(&flagProcs, "procs", "p", 4, "number of in-process ranks")
	rootCmd.Flags().IntVarP(&flagSize, "size", "n", 8, "matrix dimension")
	rootCmd.Flags().IntVarP(&flagBlocksize, "blocksize", "b", 2, "algorithmic blocksize")
	if err := rootCmd.Execute(); err != nil {
		klog.Errorf("distla-demo: %+v", err)
		os.Exit(1)
	}
}
