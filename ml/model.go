package ml

// Classifier predicts a class index for one feature vector.
type Classifier interface {
	Predict(features []float64) (int, float64, error)
}

var (
	_ Classifier = (*DecisionTree)(nil)
	_ Classifier = (*RandomForest)(nil)
)
