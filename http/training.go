package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"learnask/db"
	"learnask/ml"
)

const uploadField = "file"

type trainResponse struct {
	Message string `json:"message"`
	ml.Summary
}

// handleLearn trains a new model from an uploaded table and makes it current.
func (a *API) handleLearn(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxUploadBytes)

	path, source, err := a.spoolUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer os.Remove(path)

	ds, err := a.parseUpload(path)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	a.trainMu.Lock()
	defer a.trainMu.Unlock()

	start := time.Now()
	model, err := ml.Train(r.Context(), ds, a.config.Train)
	if err != nil {
		switch {
		case errors.Is(err, ml.ErrEmptyDataset):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			writeError(w, http.StatusServiceUnavailable, "training did not finish in time")
		default:
			a.logger.Error("training failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "training failed")
		}
		return
	}
	elapsed := time.Since(start)

	if err := a.store.Swap(model); err != nil {
		a.logger.Error("publish model failed", zap.String("model_id", model.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save model")
		return
	}

	summary := model.Summary()
	a.logger.Info("model trained",
		zap.String("model_id", model.ID),
		zap.String("source", source),
		zap.Int("rows", summary.Rows),
		zap.Int("features", summary.Features),
		zap.Int("classes", len(summary.Classes)),
		zap.Duration("duration", elapsed),
	)

	if a.history != nil {
		err := a.history.SaveTrainingLog(r.Context(), db.TrainingLog{
			ModelID:    model.ID,
			Source:     source,
			Rows:       summary.Rows,
			Features:   summary.Features,
			Classes:    summary.Classes,
			Trees:      summary.Trees,
			Accuracy:   summary.HoldoutAccuracy,
			DurationMS: elapsed.Milliseconds(),
			TrainedAt:  model.TrainedAt,
		})
		if err != nil {
			a.logger.Warn("save training log failed", zap.String("model_id", model.ID), zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, trainResponse{Message: "Model trained successfully", Summary: summary})
}

// spoolUpload copies the multipart file field to a temp file and returns its
// path with the client's file name. The caller removes the file.
func (a *API) spoolUpload(r *http.Request) (string, string, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return "", "", fmt.Errorf("expected a multipart/form-data upload: %w", err)
	}
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return "", "", fmt.Errorf("missing %q file field", uploadField)
		}
		if err != nil {
			return "", "", err
		}
		if part.FormName() != uploadField {
			part.Close()
			continue
		}

		tmp, err := os.CreateTemp(a.config.TempDir, "learnask-upload-*.csv")
		if err != nil {
			part.Close()
			return "", "", err
		}
		_, copyErr := io.Copy(tmp, part)
		closeErr := tmp.Close()
		part.Close()
		if copyErr == nil {
			copyErr = closeErr
		}
		if copyErr != nil {
			os.Remove(tmp.Name())
			return "", "", copyErr
		}
		return tmp.Name(), part.FileName(), nil
	}
}

func (a *API) parseUpload(path string) (*ml.Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ml.ParseDataset(file, a.config.Parse)
}
