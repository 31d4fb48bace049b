// This file contains code to help debugging, and is
// separated in from the rest in order not to litter
// the main code with debugging stuff

package main

import (
	"flag"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/524D/nacorr/internal/formula"
	"github.com/524D/nacorr/internal/isotope"
	"github.com/524D/nacorr/internal/lcms"
	"github.com/524D/nacorr/internal/maven"
	"github.com/524D/nacorr/internal/namatrix"
	"github.com/524D/nacorr/internal/resolution"
)

var debugMetabs *string // Print correction matrices for given metabolites

func init() {
	debugMetabs = flag.String("debugmetab", "",
		"Print correction matrices for the named `metabolites` (comma separated)")
}

// debugLogMatrices rebuilds and prints the correction matrix of every
// requested metabolite, per tracer: the base matrix, the matrix after
// manual folding, and its pseudo-inverse. Only called when
// NACORR_DEBUG=1.
func debugLogMatrices(rows []maven.Measurement, cfg lcms.Config, tab *isotope.Table) {
	if *debugMetabs == `` {
		return
	}
	wanted := make(map[string]bool)
	for _, name := range strings.Split(*debugMetabs, ",") {
		wanted[strings.TrimSpace(name)] = true
	}
	formulaOf := make(map[string]string)
	var order []string
	for _, r := range rows {
		if wanted[r.Name] {
			if _, ok := formulaOf[r.Name]; !ok {
				formulaOf[r.Name] = r.Formula
				order = append(order, r.Name)
			}
		}
	}

	vectors := tab.Vectors(cfg.NAVectors)
	for _, name := range order {
		f, err := formula.Parse(formulaOf[name])
		if err != nil {
			fmt.Printf("%s: %v\n", name, err)
			continue
		}
		for _, iso := range cfg.Tracers {
			tr, err := tab.TracerFor(iso)
			if err != nil {
				fmt.Printf("%s: %v\n", name, err)
				continue
			}
			vec, ok := vectors[tr.Element]
			if !ok {
				continue
			}
			m := namatrix.Build(f.Count(tr.Element), vec)
			fmt.Printf("%s %s base matrix:\n%v\n", name, iso,
				mat.Formatted(m, mat.Squeeze()))

			if cfg.Resolution != nil {
				corrMap, limits, err := resolution.Detect(f, []isotope.Tracer{tr}, *cfg.Resolution, tab)
				if err != nil {
					fmt.Printf("%s: %v\n", name, err)
					continue
				}
				fmt.Printf("%s %s detected candidates: %v limits: %v\n",
					name, iso, corrMap[tr.Element], limits)
				continue
			}
			candidates := cfg.Indistinguishable[tr.Element]
			for _, cand := range candidates {
				elem, cvec, err := tab.CandidateVector(cand, vectors, candidates)
				if err != nil {
					fmt.Printf("%s: %v\n", name, err)
					continue
				}
				if n := f.Count(elem); n > 0 {
					m = namatrix.AddElement(m, n, cvec)
				}
			}
			if len(candidates) > 0 {
				fmt.Printf("%s %s folded matrix:\n%v\n", name, iso,
					mat.Formatted(m, mat.Squeeze()))
			}
			pinv, err := namatrix.Pinv(m)
			if err != nil {
				fmt.Printf("%s: %v\n", name, err)
				continue
			}
			fmt.Printf("%s %s pseudo-inverse:\n%v\n", name, iso,
				mat.Formatted(pinv, mat.Squeeze()))
		}
	}
}
