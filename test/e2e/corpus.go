// Package e2e provides end-to-end tests with a generated image corpus and multiple queries.
package e2e

import (
	"fmt"
	"image"
	"image/color"
)

// E2EImage is an image entry in the E2E corpus.
type E2EImage struct {
	Name  string
	Image image.Image
}

// QueryTestCase defines a query image and the corpus entry that must rank first for it.
type QueryTestCase struct {
	Query        E2EImage
	ExpectedName string
	Description  string
}

// Corpus holds images and query test cases for E2E tests.
type Corpus struct {
	Images       []E2EImage
	TestCases    []QueryTestCase
	TotalImages  int
	TotalQueries int
}

// BuildCorpus returns a corpus of n distinct images. Every image is pixel-identical to its query,
// so any embedding backend must rank the stored copy first.
func BuildCorpus(n int) *Corpus {
	images := buildImages(n)
	cases := buildQueryTestCases(images)
	return &Corpus{
		Images:       images,
		TestCases:    cases,
		TotalImages:  len(images),
		TotalQueries: len(cases),
	}
}

func buildImages(n int) []E2EImage {
	out := make([]E2EImage, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, E2EImage{
			Name:  fmt.Sprintf("e2e-img-%03d", i+1),
			Image: pattern(i),
		})
	}
	return out
}

// pattern draws a 32x32 two-colour stripe image whose colours and stripe width depend on i.
func pattern(i int) image.Image {
	const size = 32
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	fg := color.RGBA{R: uint8(i * 37), G: uint8(i * 91), B: uint8(i * 53), A: 255}
	bg := color.RGBA{R: 255 - fg.R, G: 255 - fg.G, B: 255 - fg.B, A: 255}
	stripe := i%7 + 1
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if (x/stripe+y/(i%3+1))%2 == 0 {
				img.Set(x, y, fg)
			} else {
				img.Set(x, y, bg)
			}
		}
	}
	return img
}

func buildQueryTestCases(images []E2EImage) []QueryTestCase {
	cases := make([]QueryTestCase, 0, len(images))
	for _, img := range images {
		cases = append(cases, QueryTestCase{
			Query:        img,
			ExpectedName: img.Name,
			Description:  fmt.Sprintf("query %s should return itself first", img.Name),
		})
	}
	return cases
}
