package transport

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/relaybus/relaybus/buserr"
	"github.com/relaybus/relaybus/log"
	"github.com/relaybus/relaybus/message"
)

// Identifier resolves the sending bus's identity from an inbound
// request, e.g. by verifying Basic or bearer credentials. A nil
// Identifier accepts every request as anonymous.
type Identifier interface {
	IdentifyRequest(r *http.Request) (senderIdentity string, err error)
}

// IdentifierFunc adapts a function to Identifier.
type IdentifierFunc func(r *http.Request) (string, error)

func (f IdentifierFunc) IdentifyRequest(r *http.Request) (string, error) { return f(r) }

// Server is the inbound half of C1: an HTTP front end that decodes the
// wire contract (POST /message/{id}, POST|DELETE /topic/{topic}/subscriber)
// and fans accepted requests out to registered observers.
type Server struct {
	logger       log.Logger
	identifier   Identifier
	messageObs   []MessageObserver
	subscription []SubscriptionObserver
}

// NewServer builds an inbound transport front end. A nil identifier
// accepts every request as anonymous.
func NewServer(logger log.Logger, identifier Identifier) *Server {
	return &Server{logger: logger, identifier: identifier}
}

// SetIdentifier attaches or replaces the inbound identity check, for
// callers that assemble their credential store after the Server
// already exists (e.g. a Bus building one from its own configuration).
// Call before the server's routes are mounted; it is not safe to call
// once the server is handling requests.
func (s *Server) SetIdentifier(identifier Identifier) {
	s.identifier = identifier
}

// OnMessage registers an observer notified of every accepted inbound
// message.
func (s *Server) OnMessage(obs MessageObserver) {
	s.messageObs = append(s.messageObs, obs)
}

// OnSubscriptionRequest registers an observer notified of every
// accepted inbound subscription request.
func (s *Server) OnSubscriptionRequest(obs SubscriptionObserver) {
	s.subscription = append(s.subscription, obs)
}

// RegisterRoutes wires the wire contract onto r, satisfying
// app.RouteRegistrar.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Post("/message/{messageId}", s.handleMessage)
	r.Post("/topic/{topic}/subscriber", s.handleAddSubscriber)
	r.Delete("/topic/{topic}/subscriber", s.handleRemoveSubscriber)
}

func (s *Server) identify(r *http.Request) (string, error) {
	if s.identifier == nil {
		return "", nil
	}
	return s.identifier.IdentifyRequest(r)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	senderIdentity, err := s.identify(r)
	if err != nil {
		writeError(w, buserr.ErrUnauthorized)
		return
	}

	messageID, err := url.PathUnescape(chi.URLParam(r, "messageId"))
	if err != nil || messageID == "" {
		writeError(w, buserr.ErrInvalidRequest)
		return
	}

	content, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, buserr.ErrInvalidRequest)
		return
	}

	headers := message.NewHeaders()
	for name := range r.Header {
		headers.Set(name, r.Header.Get(name))
	}
	headers.SetMessageID(message.ID(messageID))

	msg := message.Message{Headers: headers, Content: content}

	ctx := r.Context()
	for _, obs := range s.messageObs {
		if err := obs.AcceptMessage(ctx, msg, senderIdentity); err != nil {
			writeError(w, err)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleAddSubscriber(w http.ResponseWriter, r *http.Request) {
	s.handleSubscriptionRequest(w, r, SubscriptionAdd)
}

func (s *Server) handleRemoveSubscriber(w http.ResponseWriter, r *http.Request) {
	s.handleSubscriptionRequest(w, r, SubscriptionRemove)
}

func (s *Server) handleSubscriptionRequest(w http.ResponseWriter, r *http.Request, kind SubscriptionRequestKind) {
	senderIdentity, err := s.identify(r)
	if err != nil {
		writeError(w, buserr.ErrUnauthorized)
		return
	}

	topic, err := url.PathUnescape(chi.URLParam(r, "topic"))
	if err != nil || topic == "" {
		writeError(w, buserr.ErrInvalidRequest)
		return
	}

	subscriberURI := r.URL.Query().Get("uri")
	if subscriberURI == "" {
		writeError(w, buserr.ErrInvalidRequest)
		return
	}

	var ttl int64
	if raw := r.URL.Query().Get("ttl"); raw != "" {
		ttl, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, buserr.ErrInvalidRequest)
			return
		}
	}

	ctx := r.Context()
	for _, obs := range s.subscription {
		if err := obs.AcceptSubscriptionRequest(ctx, kind, topic, subscriberURI, ttl, senderIdentity); err != nil {
			writeError(w, err)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, buserr.ErrUnauthorized):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, buserr.ErrNotAcknowledged):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, buserr.ErrInvalidRequest), errors.Is(err, buserr.ErrEndpointNotFound), errors.Is(err, buserr.ErrTopicNotFound):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
