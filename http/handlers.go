package http

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"learnask/db"
	"learnask/events"
	"learnask/ml"
	"learnask/store"
)

const msgModelNotFound = "Model not found. Train the model first."

// History records trainings and predictions. *db.DB implements it.
type History interface {
	SaveTrainingLog(ctx context.Context, entry db.TrainingLog) error
	LoadTrainingLog(ctx context.Context, limit int) ([]db.TrainingLog, error)
	SavePrediction(ctx context.Context, p db.Prediction) error
}

// EventStream broadcasts model events. *events.Hub implements it.
type EventStream interface {
	Publish(kind events.MessageType, data any)
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
}

// APIConfig tunes the learn and ask handlers.
type APIConfig struct {
	MaxUploadBytes int64
	TempDir        string
	Parse          ml.ParseOptions
	Train          ml.TrainConfig
	CacheSize      int
}

// API serves the learn/ask endpoints and their supporting routes.
// History and Events may be nil.
type API struct {
	config  APIConfig
	store   *store.Store
	history History
	events  EventStream
	cache   *predictionCache
	logger  *zap.Logger

	trainMu sync.Mutex
}

func NewAPI(config APIConfig, models *store.Store, history History, stream EventStream, logger *zap.Logger) (*API, error) {
	if models == nil {
		return nil, errors.New("model store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 32 << 20
	}
	cache, err := newPredictionCache(config.CacheSize)
	if err != nil {
		return nil, err
	}

	api := &API{
		config:  config,
		store:   models,
		history: history,
		events:  stream,
		cache:   cache,
		logger:  logger,
	}
	models.Subscribe(api.onModelChange)
	return api, nil
}

func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", handleIndex)
	mux.Handle("GET /static/", staticHandler())

	mux.HandleFunc("POST /learn", a.handleLearn)
	mux.HandleFunc("GET /ask", a.handleAsk)

	mux.HandleFunc("GET /api/health", a.handleHealth)
	mux.HandleFunc("GET /api/model", a.handleModel)
	mux.HandleFunc("GET /api/history", a.handleHistory)
	if a.events != nil {
		mux.HandleFunc("GET /ws", a.events.HandleWebSocket)
	}
}

func (a *API) onModelChange(model *ml.Model, kind store.ChangeKind) {
	a.cache.Purge()
	if a.events != nil {
		a.events.Publish(events.MessageType(kind), model.Summary())
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, err := a.store.Current()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"model_loaded": err == nil,
	})
}

func (a *API) handleModel(w http.ResponseWriter, r *http.Request) {
	model, err := a.store.Current()
	if err != nil {
		writeError(w, http.StatusNotFound, msgModelNotFound)
		return
	}
	writeJSON(w, http.StatusOK, model.Summary())
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 500)
	}
	if a.history == nil {
		writeJSON(w, http.StatusOK, []db.TrainingLog{})
		return
	}
	logs, err := a.history.LoadTrainingLog(r.Context(), limit)
	if err != nil {
		a.logger.Error("load training log failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load training history")
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (a *API) handleAsk(w http.ResponseWriter, r *http.Request) {
	model, err := a.store.Current()
	if err != nil {
		writeError(w, http.StatusBadRequest, msgModelNotFound)
		return
	}

	features, err := ml.ParseQuery(r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := cacheKey(model.ID, features)
	result, ok := a.cache.Get(key)
	if !ok {
		label, confidence, err := model.Predict(features)
		if err != nil {
			if errors.Is(err, ml.ErrInvalidQuery) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			a.logger.Error("predict failed", zap.String("model_id", model.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "prediction failed")
			return
		}
		result = cachedPrediction{label: label, confidence: confidence}
		a.cache.Add(key, result)
	}

	if a.history != nil {
		err := a.history.SavePrediction(r.Context(), db.Prediction{
			ModelID:    model.ID,
			Query:      r.URL.Query().Get("q"),
			Label:      result.label,
			Confidence: result.confidence,
		})
		if err != nil {
			a.logger.Warn("save prediction failed", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"prediction": labelValue(result.label)})
}

// labelValue renders numeric labels as JSON numbers.
func labelValue(label string) any {
	f, err := strconv.ParseFloat(label, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return label
	}
	return f
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
