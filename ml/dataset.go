package ml

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrEmptyDataset     = errors.New("dataset is empty")
	ErrTooFewColumns    = errors.New("dataset must have at least two columns")
	ErrMalformedDataset = errors.New("malformed dataset")
	ErrInvalidQuery     = errors.New("invalid query")
)

// Dataset is a parsed training table. The last input column becomes Labels,
// the remaining columns become Features.
type Dataset struct {
	FeatureNames []string
	Features     [][]float64
	Labels       []string
}

// ParseOptions controls how uploaded tables are decoded.
type ParseOptions struct {
	// Comma is the field delimiter; zero means ','.
	Comma rune
	// Encoding is an IANA/WHATWG charset label; empty means utf-8.
	Encoding string
}

// ParseDataset reads a delimited table. A first row whose feature cells are
// not all numeric is taken as a header.
func ParseDataset(r io.Reader, opts ParseOptions) (*Dataset, error) {
	decoded, err := DecodeReader(r, opts.Encoding)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(decoded)
	reader.TrimLeadingSpace = true
	if opts.Comma != 0 {
		reader.Comma = opts.Comma
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDataset, err)
	}
	if len(records) == 0 {
		return nil, ErrEmptyDataset
	}

	width := len(records[0])
	if width < 2 {
		return nil, ErrTooFewColumns
	}

	ds := &Dataset{}
	if isHeader(records[0]) {
		ds.FeatureNames = make([]string, width-1)
		for i := range ds.FeatureNames {
			ds.FeatureNames[i] = strings.TrimSpace(records[0][i])
		}
		records = records[1:]
	} else {
		ds.FeatureNames = defaultFeatureNames(width - 1)
	}
	if len(records) == 0 {
		return nil, ErrEmptyDataset
	}

	ds.Features = make([][]float64, 0, len(records))
	ds.Labels = make([]string, 0, len(records))
	for rowIdx, record := range records {
		row := make([]float64, width-1)
		for col := 0; col < width-1; col++ {
			value, err := parseNumber(record[col])
			if err != nil {
				return nil, fmt.Errorf("%w: row %d column %d: %q is not numeric", ErrMalformedDataset, rowIdx+1, col+1, record[col])
			}
			row[col] = value
		}
		label := strings.TrimSpace(record[width-1])
		if label == "" {
			return nil, fmt.Errorf("%w: row %d has an empty label", ErrMalformedDataset, rowIdx+1)
		}
		ds.Features = append(ds.Features, row)
		ds.Labels = append(ds.Labels, label)
	}
	return ds, nil
}

// NumFeatures returns the feature column count.
func (ds *Dataset) NumFeatures() int {
	return len(ds.FeatureNames)
}

// EncodeLabels maps labels to class indices. Classes are sorted numerically
// when every label is numeric and lexically otherwise.
func (ds *Dataset) EncodeLabels() (classes []string, encoded []int) {
	seen := make(map[string]struct{})
	for _, label := range ds.Labels {
		if _, ok := seen[label]; !ok {
			seen[label] = struct{}{}
			classes = append(classes, label)
		}
	}
	sortClasses(classes)

	index := make(map[string]int, len(classes))
	for i, class := range classes {
		index[class] = i
	}
	encoded = make([]int, len(ds.Labels))
	for i, label := range ds.Labels {
		encoded[i] = index[label]
	}
	return classes, encoded
}

// ParseQuery turns "1, 2.5,3" into a feature vector.
func ParseQuery(q string) ([]float64, error) {
	if strings.TrimSpace(q) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidQuery)
	}
	tokens := strings.Split(q, ",")
	vector := make([]float64, len(tokens))
	for i, token := range tokens {
		value, err := parseNumber(token)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", ErrInvalidQuery, strings.TrimSpace(token))
		}
		vector[i] = value
	}
	return vector, nil
}

// SplitDataset shuffles rows with seed and holds out testRatio of them.
func SplitDataset(features [][]float64, labels []int, testRatio float64, seed int64) (trainX [][]float64, trainY []int, testX [][]float64, testY []int) {
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = 0.2
	}
	rnd := rand.New(rand.NewSource(seed))
	indices := rnd.Perm(len(features))

	split := int(math.Round(float64(len(features)) * (1 - testRatio)))
	for i, idx := range indices {
		if i < split {
			trainX = append(trainX, features[idx])
			trainY = append(trainY, labels[idx])
		} else {
			testX = append(testX, features[idx])
			testY = append(testY, labels[idx])
		}
	}
	return trainX, trainY, testX, testY
}

// Accuracy is the share of rows the classifier labels correctly.
func Accuracy(model Classifier, features [][]float64, labels []int) float64 {
	if len(features) == 0 {
		return 0
	}
	correct := 0
	for i, row := range features {
		label, _, err := model.Predict(row)
		if err != nil {
			continue
		}
		if label == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(features))
}

func parseNumber(s string) (float64, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, errors.New("non-finite value")
	}
	return value, nil
}

func isHeader(record []string) bool {
	for _, cell := range record[:len(record)-1] {
		if _, err := parseNumber(cell); err != nil {
			return true
		}
	}
	return false
}

func defaultFeatureNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = "x" + strconv.Itoa(i)
	}
	return names
}

func sortClasses(classes []string) {
	numeric := true
	values := make(map[string]float64, len(classes))
	for _, class := range classes {
		v, err := parseNumber(class)
		if err != nil {
			numeric = false
			break
		}
		values[class] = v
	}
	if numeric {
		sort.SliceStable(classes, func(i, j int) bool { return values[classes[i]] < values[classes[j]] })
		return
	}
	sort.Strings(classes)
}
