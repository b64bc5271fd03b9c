package bus

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes exposes internal-only diagnostic endpoints, satisfying
// app.RouteRegistrar. Gating these behind auth/network restriction
// (e.g. app.WithDefaultInternalMiddlewares) is the mounting caller's
// responsibility; the bus itself does not restrict access.
func (b *Bus) RegisterRoutes(r chi.Router) {
	r.Get("/debug/queues", b.handleDebugQueues)
	r.Get("/debug/subscriptions", b.handleDebugSubscriptions)
}

func (b *Bus) handleDebugQueues(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, b.queueEngine.Stats())
}

type subscriberView struct {
	Topic string   `json:"topic"`
	URIs  []string `json:"uris"`
}

func (b *Bus) handleDebugSubscriptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	views := make([]subscriberView, 0, len(b.topics))
	for topic := range b.topics {
		uris, err := b.tracker.GetSubscribers(ctx, topic)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		views = append(views, subscriberView{Topic: topic, URIs: uris})
	}

	writeJSON(w, views)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
