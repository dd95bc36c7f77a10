package ml

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"golang.org/x/text/encoding/simplifiedchinese"
)

func TestParseDatasetWithoutHeader(t *testing.T) {
	ds, err := ParseDataset(strings.NewReader("1,2,0\n3,4,1\n"), ParseOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ds.Features) != 2 || ds.NumFeatures() != 2 {
		t.Fatalf("expected 2 rows of 2 features, got %+v", ds)
	}
	if ds.Labels[0] != "0" || ds.Labels[1] != "1" {
		t.Fatalf("unexpected labels: %v", ds.Labels)
	}
	if ds.FeatureNames[0] != "x0" {
		t.Fatalf("expected generated feature names, got %v", ds.FeatureNames)
	}
}

func TestParseDatasetWithHeader(t *testing.T) {
	input := "height, weight, species\n1.5,60,cat\n2.5,70,dog\n"
	ds, err := ParseDataset(strings.NewReader(input), ParseOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ds.Features) != 2 {
		t.Fatalf("expected header to be skipped, got %d rows", len(ds.Features))
	}
	if ds.FeatureNames[1] != "weight" {
		t.Fatalf("unexpected feature names: %v", ds.FeatureNames)
	}
	if ds.Features[1][0] != 2.5 || ds.Labels[1] != "dog" {
		t.Fatalf("unexpected row: %v %v", ds.Features[1], ds.Labels[1])
	}
}

func TestParseDatasetErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"single column", "1\n2\n3\n", ErrTooFewColumns},
		{"empty", "", ErrEmptyDataset},
		{"header only", "a,b,label\n", ErrEmptyDataset},
		{"ragged rows", "1,2,0\n3,1\n", ErrMalformedDataset},
		{"non numeric feature", "1,2,0\n3,x,1\n", ErrMalformedDataset},
		{"nan feature", "1,2,0\nNaN,4,1\n", ErrMalformedDataset},
		{"empty label", "1,2,0\n3,4,\n", ErrMalformedDataset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDataset(strings.NewReader(tt.input), ParseOptions{})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestParseDatasetSemicolon(t *testing.T) {
	ds, err := ParseDataset(strings.NewReader("1;2;a\n3;4;b\n"), ParseOptions{Comma: ';'})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ds.Features) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(ds.Features))
	}
}

func TestParseDatasetStripsBOM(t *testing.T) {
	input := "\xef\xbb\xbf1,2,0\n3,4,1\n"
	ds, err := ParseDataset(strings.NewReader(input), ParseOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ds.Features[0][0] != 1 {
		t.Fatalf("expected BOM to be stripped, got %v", ds.Features[0])
	}
}

func TestParseDatasetGBK(t *testing.T) {
	encoded, err := simplifiedchinese.GBK.NewEncoder().String("1,2,上涨\n3,4,下跌\n")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	ds, err := ParseDataset(bytes.NewReader([]byte(encoded)), ParseOptions{Encoding: "gbk"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ds.Labels[0] != "上涨" || ds.Labels[1] != "下跌" {
		t.Fatalf("unexpected labels: %v", ds.Labels)
	}
}

func TestParseDatasetUnknownEncoding(t *testing.T) {
	if _, err := ParseDataset(strings.NewReader("1,2\n"), ParseOptions{Encoding: "klingon"}); err == nil {
		t.Fatal("expected unsupported encoding error")
	}
}

func TestEncodeLabelsSortsNumerically(t *testing.T) {
	ds := &Dataset{Labels: []string{"10", "2", "10", "-1"}}
	classes, encoded := ds.EncodeLabels()
	want := []string{"-1", "2", "10"}
	for i := range want {
		if classes[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, classes)
		}
	}
	if encoded[0] != 2 || encoded[1] != 1 || encoded[3] != 0 {
		t.Fatalf("unexpected encoding: %v", encoded)
	}
}

func TestParseQuery(t *testing.T) {
	vector, err := ParseQuery(" 1, 2.5 ,-3e2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vector) != 3 || vector[1] != 2.5 || vector[2] != -300 {
		t.Fatalf("unexpected vector: %v", vector)
	}

	for _, q := range []string{"", "1,two", "What is the weather?", "1,,2", "inf"} {
		if _, err := ParseQuery(q); !errors.Is(err, ErrInvalidQuery) {
			t.Fatalf("query %q: expected ErrInvalidQuery, got %v", q, err)
		}
	}
}

func TestSplitDataset(t *testing.T) {
	features := make([][]float64, 10)
	labels := make([]int, 10)
	for i := range features {
		features[i] = []float64{float64(i)}
		labels[i] = i % 2
	}
	trainX, trainY, testX, testY := SplitDataset(features, labels, 0.3, 1)
	if len(trainX) != 7 || len(trainY) != 7 || len(testX) != 3 || len(testY) != 3 {
		t.Fatalf("unexpected split sizes: %d/%d", len(trainX), len(testX))
	}
}
