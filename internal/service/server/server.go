package server

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"social_fed/internal/config"
	"social_fed/internal/cryptographic/signature"
	"social_fed/internal/model"
	"social_fed/internal/protocol"
	"social_fed/internal/protocol/magicenv"
	"social_fed/internal/protocol/normalize"
	"social_fed/internal/service/receiver"
	"social_fed/internal/utils/log"
)

const maxBodyBytes = 1 << 20

type (
	// HttpServer is the transport boundary: it maps the engine's failure
	// taxonomy onto wire-level status codes, nothing more.
	HttpServer struct {
		cfg      *config.Config
		receiver *receiver.Receiver
		items    ItemSource
		users    receiver.Users
	}

	// ItemSource serves the fetch endpoint's public posts.
	ItemSource interface {
		GetPublicByGUID(ctx context.Context, guid string) (*model.Item, error)
	}
)

func NewHttpServer(cfg *config.Config, rcv *receiver.Receiver, items ItemSource, users receiver.Users) *HttpServer {
	return &HttpServer{
		cfg:      cfg,
		receiver: rcv,
		items:    items,
		users:    users,
	}
}

func (s *HttpServer) Run() error {
	return http.ListenAndServe(s.cfg.ListenAddr, s.Router())
}

func (s *HttpServer) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/receive/public", s.HandleReceivePublic()).Methods(http.MethodPost)
	r.HandleFunc("/receive/users/{guid}", s.HandleReceivePrivate()).Methods(http.MethodPost)
	r.HandleFunc("/fetch/post/{guid}", s.HandleFetchPost()).Methods(http.MethodGet)
	return r
}

func (s *HttpServer) HandleReceivePublic() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.Enabled {
			http.Error(w, "federation disabled", http.StatusServiceUnavailable)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, "cannot read body", http.StatusBadRequest)
			return
		}

		if err := s.receiver.ReceivePublic(r.Context(), body); err != nil {
			s.writeFailure(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *HttpServer) HandleReceivePrivate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.Enabled {
			http.Error(w, "federation disabled", http.StatusServiceUnavailable)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, "cannot read body", http.StatusBadRequest)
			return
		}

		guid := mux.Vars(r)["guid"]
		if err := s.receiver.ReceivePrivate(r.Context(), guid, body); err != nil {
			s.writeFailure(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// HandleFetchPost serves a single public post as a signed magic envelope
// for unauthenticated retrieval by peer servers.
func (s *HttpServer) HandleFetchPost() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		guid := mux.Vars(r)["guid"]

		item, err := s.items.GetPublicByGUID(ctx, guid)
		if err != nil {
			log.Error("fetch lookup failed", zap.String("guid", guid), zap.Error(err))
			http.Error(w, "lookup failed", http.StatusInternalServerError)
			return
		}
		if item == nil {
			http.Error(w, "no such post", http.StatusNotFound)
			return
		}

		owner, err := s.users.GetByHandle(ctx, item.Author)
		if err != nil || owner == nil {
			http.Error(w, "no such post", http.StatusNotFound)
			return
		}

		privKey, err := signature.ParsePrivateKeyPEM([]byte(owner.PrivateKeyPEM))
		if err != nil {
			log.Error("fetch signing key unusable", zap.String("handle", owner.Handle), zap.Error(err))
			http.Error(w, "signing failed", http.StatusInternalServerError)
			return
		}

		msg := &model.Message{Type: item.Type, Fields: item.Fields}
		env, err := magicenv.Build(normalize.RenderXML(msg), owner.Handle, privKey)
		if err != nil {
			log.Error("fetch envelope build failed", zap.String("guid", guid), zap.Error(err))
			http.Error(w, "signing failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/magic-envelope+xml")
		w.WriteHeader(http.StatusOK)
		w.Write(magicenv.RenderXML(env))
	}
}

// writeFailure maps the failure taxonomy onto status codes: everything
// the sender got wrong is a client error, the rest is ours.
func (s *HttpServer) writeFailure(w http.ResponseWriter, err error) {
	log.Error("inbound delivery rejected", zap.Error(err))

	switch {
	case errors.Is(err, receiver.ErrUnknownUser):
		http.Error(w, "unknown recipient", http.StatusNotFound)
	case errors.Is(err, protocol.ErrMalformedEnvelope),
		errors.Is(err, protocol.ErrCryptoFailure),
		errors.Is(err, protocol.ErrSignatureVerificationFailed),
		errors.Is(err, protocol.ErrKeyResolutionFailure),
		errors.Is(err, protocol.ErrSpoofedAuthor),
		errors.Is(err, protocol.ErrUnsupportedMessageType),
		errors.Is(err, protocol.ErrPrivacyViolation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "processing failed", http.StatusInternalServerError)
	}
}
