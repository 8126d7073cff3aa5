package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/url"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/campaign"
	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/store"
	"github.com/sells-group/leadgen/internal/zipcode"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the campaign API server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initCampaigns(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		handler := buildRouter(env.Orchestrator, env.Store, env.Hub)
		return startServer(ctx, handler, resolvePort(servePort, cfg.Server.Port))
	},
}

// campaignService is the orchestrator surface the API needs.
type campaignService interface {
	Start(ctx context.Context, req model.CampaignRequest) (string, error)
	Status(id string) (model.Campaign, bool)
	Active() []model.Campaign
}

// campaignSummary is a campaign listing entry, stored or in flight.
type campaignSummary struct {
	model.Campaign
	Active bool `json:"active"`
}

type mergeRequest struct {
	CampaignIDs []string `json:"campaign_ids"`
	Name        string   `json:"name"`
}

type renameRequest struct {
	Name *string `json:"name"`
}

func buildRouter(svc campaignService, st store.Store, hub *campaign.Hub) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/campaigns", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			stored, err := st.ListCampaigns(r.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			active := svc.Active()
			out := make([]campaignSummary, 0, len(active)+len(stored))
			// Newest first, matching the stored order.
			for i := len(active) - 1; i >= 0; i-- {
				out = append(out, campaignSummary{Campaign: active[i], Active: true})
			}
			for _, c := range stored {
				out = append(out, campaignSummary{Campaign: c})
			}
			writeJSON(w, http.StatusOK, out)
		})

		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			var req model.CampaignRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, eris.Wrap(err, "invalid request body"))
				return
			}
			id, err := svc.Start(r.Context(), req)
			if err != nil {
				writeError(w, startStatus(err), err)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{
				"campaign_id": id,
				"status":      string(model.StatusStarting),
			})
		})

		r.Post("/merge", func(w http.ResponseWriter, r *http.Request) {
			var req mergeRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, eris.Wrap(err, "invalid request body"))
				return
			}
			id, err := campaign.Merge(r.Context(), st, req.CampaignIDs, req.Name)
			if err != nil {
				writeError(w, mergeStatus(err), err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]string{"campaign_id": id})
		})

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				id := chi.URLParam(r, "id")
				c, err := st.GetCampaign(r.Context(), id)
				if errors.Is(err, store.ErrNotFound) {
					if snap, ok := svc.Status(id); ok {
						writeJSON(w, http.StatusOK, snap)
						return
					}
					writeError(w, http.StatusNotFound, err)
					return
				}
				if err != nil {
					writeError(w, http.StatusInternalServerError, err)
					return
				}
				if c.Leads, err = st.LoadLeads(r.Context(), id); err != nil {
					writeError(w, http.StatusInternalServerError, err)
					return
				}
				writeJSON(w, http.StatusOK, c)
			})

			r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
				id := chi.URLParam(r, "id")
				if snap, ok := svc.Status(id); ok {
					writeJSON(w, http.StatusOK, statusBody(snap))
					return
				}
				c, err := st.GetCampaign(r.Context(), id)
				if err != nil {
					writeError(w, lookupStatus(err), err)
					return
				}
				writeJSON(w, http.StatusOK, statusBody(*c))
			})

			r.Get("/leads", func(w http.ResponseWriter, r *http.Request) {
				id := chi.URLParam(r, "id")
				if _, err := st.GetCampaign(r.Context(), id); err != nil {
					writeError(w, lookupStatus(err), err)
					return
				}
				q, err := parseLeadQuery(r.URL.Query())
				if err != nil {
					writeError(w, http.StatusBadRequest, err)
					return
				}
				leads, err := st.LoadLeads(r.Context(), id)
				if err != nil {
					writeError(w, http.StatusInternalServerError, err)
					return
				}
				page, pagination := campaign.Paginate(campaign.FilterLeads(leads, q.filter), q.page, q.limit)
				writeJSON(w, http.StatusOK, map[string]any{
					"leads":      page,
					"pagination": pagination,
				})
			})

			r.Put("/", func(w http.ResponseWriter, r *http.Request) {
				id := chi.URLParam(r, "id")
				var req renameRequest
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					writeError(w, http.StatusBadRequest, eris.Wrap(err, "invalid request body"))
					return
				}
				ok, err := st.UpdateCampaign(r.Context(), id, store.CampaignUpdate{Name: req.Name})
				if err != nil {
					writeError(w, http.StatusInternalServerError, err)
					return
				}
				if !ok {
					writeError(w, http.StatusNotFound, store.ErrNotFound)
					return
				}
				c, err := st.GetCampaign(r.Context(), id)
				if err != nil {
					writeError(w, lookupStatus(err), err)
					return
				}
				writeJSON(w, http.StatusOK, c)
			})

			r.Delete("/", func(w http.ResponseWriter, r *http.Request) {
				ok, err := st.DeleteCampaign(r.Context(), chi.URLParam(r, "id"))
				if err != nil {
					writeError(w, http.StatusInternalServerError, err)
					return
				}
				if !ok {
					writeError(w, http.StatusNotFound, store.ErrNotFound)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})
		})
	})

	r.Get("/dashboard", func(w http.ResponseWriter, r *http.Request) {
		view, err := campaign.Dashboard(r.Context(), st)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	})

	r.Get("/analytics", func(w http.ResponseWriter, r *http.Request) {
		view, err := campaign.Analytics(r.Context(), st, time.Now().UTC())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	})

	r.Get("/events", func(w http.ResponseWriter, r *http.Request) {
		streamEvents(w, r, hub)
	})

	return r
}

// streamEvents writes hub events as server-sent events until the client
// goes away or the hub closes.
func streamEvents(w http.ResponseWriter, r *http.Request, hub *campaign.Hub) {
	filter := r.URL.Query().Get("campaign_id")
	events, unsubscribe := hub.Subscribe(32)
	defer unsubscribe()

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if filter != "" && e.CampaignID() != filter {
				continue
			}
			data, err := json.Marshal(e)
			if err != nil {
				zap.L().Warn("encode event", zap.String("kind", e.Kind()), zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind(), data); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

type leadQuery struct {
	filter campaign.LeadFilter
	page   int
	limit  int
}

// parseLeadQuery reads priority, min_score, page and limit. Missing values
// fall back to the first page of every lead.
func parseLeadQuery(v url.Values) (leadQuery, error) {
	q := leadQuery{page: 1, limit: campaign.DefaultPageLimit}
	if raw := v.Get("priority"); raw != "" {
		p, ok := model.ParsePriority(raw)
		if !ok {
			return q, eris.Errorf("invalid priority %q", raw)
		}
		q.filter.Priority = p
	}
	if raw := v.Get("min_score"); raw != "" {
		score, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(score) {
			return q, eris.Errorf("invalid min_score %q", raw)
		}
		q.filter.MinScore = score
	}
	var err error
	if q.page, err = positiveParam(v, "page", q.page); err != nil {
		return q, err
	}
	if q.limit, err = positiveParam(v, "limit", q.limit); err != nil {
		return q, err
	}
	return q, nil
}

func positiveParam(v url.Values, name string, def int) (int, error) {
	raw := v.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, eris.Errorf("invalid %s %q", name, raw)
	}
	return n, nil
}

func statusBody(c model.Campaign) map[string]any {
	return map[string]any{
		"campaign_id": c.ID,
		"status":      c.Status,
		"progress":    c.Progress,
	}
}

func startStatus(err error) int {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr),
		eris.Is(err, zipcode.ErrInvalidRange),
		eris.Is(err, zipcode.ErrRangeTooLarge):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func mergeStatus(err error) int {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest
	}
	return lookupStatus(err)
}

func lookupStatus(err error) int {
	if eris.Is(err, store.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		zap.L().Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// startServer serves handler until ctx is cancelled, then shuts down.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
