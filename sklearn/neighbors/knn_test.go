package neighbors

import (
	"bytes"
	"encoding/gob"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/housestack/pkg/errors"
)

func TestKNeighborsClassifier_FitPredict(t *testing.T) {
	X := mat.NewDense(6, 2, []float64{
		0, 0,
		0, 1,
		1, 0,
		5, 5,
		5, 6,
		6, 5,
	})
	y := mat.NewDense(6, 1, []float64{0, 0, 0, 1, 1, 1})

	knn := NewKNeighborsClassifier(WithNNeighbors(3))
	if err := knn.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit: %v", err)
	}
	if score := knn.Score(X, y); score != 1.0 {
		t.Errorf("Expected perfect training accuracy, got %v", score)
	}

	XTest := mat.NewDense(2, 2, []float64{0.5, 0.5, 5.5, 5.5})
	preds, err := knn.Predict(XTest)
	if err != nil {
		t.Fatalf("Failed to predict: %v", err)
	}
	if preds.At(0, 0) != 0 || preds.At(1, 0) != 1 {
		t.Errorf("Expected [0 1], got [%v %v]", preds.At(0, 0), preds.At(1, 0))
	}
}

func TestKNeighborsClassifier_VoteFractions(t *testing.T) {
	X := mat.NewDense(5, 1, []float64{0, 1, 2, 10, 11})
	y := mat.NewDense(5, 1, []float64{0, 0, 1, 1, 1})

	knn := NewKNeighborsClassifier(WithNNeighbors(3))
	if err := knn.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	probas, err := knn.PredictProba(mat.NewDense(1, 1, []float64{0.9}))
	if err != nil {
		t.Fatal(err)
	}
	// neighbours 1, 0, 2 -> two votes for class 0, one for class 1
	if math.Abs(probas.At(0, 0)-2.0/3.0) > 1e-12 || math.Abs(probas.At(0, 1)-1.0/3.0) > 1e-12 {
		t.Errorf("Expected [2/3 1/3], got [%v %v]", probas.At(0, 0), probas.At(0, 1))
	}
}

func TestKNeighborsClassifier_DistanceTieKeepsLowerIndex(t *testing.T) {
	// rows 0 and 1 are equidistant from the query
	X := mat.NewDense(3, 1, []float64{-1, 1, 5})
	y := mat.NewDense(3, 1, []float64{1, 0, 0})

	knn := NewKNeighborsClassifier(WithNNeighbors(1))
	if err := knn.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	idx, dist, err := knn.KNeighbors(mat.NewDense(1, 1, []float64{0}))
	if err != nil {
		t.Fatal(err)
	}
	if idx[0][0] != 0 || dist[0][0] != 1 {
		t.Errorf("Expected neighbour 0 at distance 1, got %d at %v", idx[0][0], dist[0][0])
	}
	preds, _ := knn.Predict(mat.NewDense(1, 1, []float64{0}))
	if preds.At(0, 0) != 1 {
		t.Errorf("Expected the label of training row 0, got %v", preds.At(0, 0))
	}
}

func TestKNeighborsClassifier_VoteTieGoesToLowestClass(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{0, 1, 2, 3})
	y := mat.NewDense(4, 1, []float64{1, 0, 1, 0})

	knn := NewKNeighborsClassifier(WithNNeighbors(4))
	if err := knn.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	preds, err := knn.Predict(mat.NewDense(1, 1, []float64{0}))
	if err != nil {
		t.Fatal(err)
	}
	if preds.At(0, 0) != 0 {
		t.Errorf("2-2 vote should go to class 0, got %v", preds.At(0, 0))
	}
}

func TestKNeighborsClassifier_ParallelMatchesSequential(t *testing.T) {
	n := 40
	X := mat.NewDense(n, 2, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		X.Set(i, 0, float64(i%7))
		X.Set(i, 1, float64(i%5))
		y.Set(i, 0, float64(i%3))
	}
	nQuery := parallelThreshold + 50
	XQuery := mat.NewDense(nQuery, 2, nil)
	for i := 0; i < nQuery; i++ {
		XQuery.Set(i, 0, float64(i%11)/2)
		XQuery.Set(i, 1, float64(i%13)/3)
	}

	seq := NewKNeighborsClassifier(WithNNeighbors(5), WithNJobs(1))
	par := NewKNeighborsClassifier(WithNNeighbors(5), WithNJobs(4))
	if err := seq.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	if err := par.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	a, err := seq.PredictProba(XQuery)
	if err != nil {
		t.Fatal(err)
	}
	b, err := par.PredictProba(XQuery)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(a, b) {
		t.Error("Parallel prediction differs from sequential")
	}
}

func TestKNeighborsClassifier_Errors(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{0, 1, 2})
	y := mat.NewDense(3, 1, []float64{0, 1, 0})

	if err := NewKNeighborsClassifier(WithNNeighbors(4)).Fit(X, y); err == nil {
		t.Error("Expected error when k exceeds the training size")
	}
	if err := NewKNeighborsClassifier(WithNNeighbors(0)).Fit(X, y); err == nil {
		t.Error("Expected error for k = 0")
	}

	var nf *errors.NotFittedError
	if _, err := NewKNeighborsClassifier().Predict(X); !errors.As(err, &nf) {
		t.Errorf("Expected NotFittedError, got %v", err)
	}

	knn := NewKNeighborsClassifier(WithNNeighbors(1))
	if err := knn.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	var de *errors.DimensionError
	if _, err := knn.Predict(mat.NewDense(1, 2, nil)); !errors.As(err, &de) {
		t.Errorf("Expected DimensionError, got %v", err)
	}
}

func TestKNeighborsClassifier_CloneAndParams(t *testing.T) {
	knn := NewKNeighborsClassifier(WithNNeighbors(7))
	clone := knn.Clone().(*KNeighborsClassifier)
	if clone.nNeighbors != 7 || clone.IsFitted() {
		t.Errorf("Clone should be unfitted with k=7, got k=%d fitted=%v", clone.nNeighbors, clone.IsFitted())
	}
	if err := knn.SetParams(map[string]interface{}{"n_neighbors": 3}); err != nil {
		t.Fatal(err)
	}
	if knn.GetParams()["n_neighbors"] != 3 {
		t.Errorf("n_neighbors not updated: %v", knn.GetParams())
	}
	if err := knn.SetParams(map[string]interface{}{"n_neighbors": 3.5}); err == nil {
		t.Error("Expected type error")
	}
}

func TestKNeighborsClassifier_Gob(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{0, 0, 0, 1, 4, 4, 4, 5})
	y := mat.NewDense(4, 1, []float64{0, 0, 1, 1})
	knn := NewKNeighborsClassifier(WithNNeighbors(3))
	if err := knn.Fit(X, y); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(knn); err != nil {
		t.Fatalf("encode: %v", err)
	}
	restored := &KNeighborsClassifier{}
	if err := gob.NewDecoder(&buf).Decode(restored); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want, _ := knn.PredictProba(X)
	got, err := restored.PredictProba(X)
	if err != nil {
		t.Fatalf("restored model: %v", err)
	}
	if !mat.Equal(want, got) {
		t.Error("Restored model predicts differently")
	}
}
