package stream

import (
	"context"
	"encoding/json"
	"log/slog"

	"rfm-gateway/internal/model"
)

// Forwarder delivers one decoded record to the collector. Forward makes exactly one attempt and
// reports the result as an outcome; it never returns an error.
type Forwarder interface {
	Forward(ctx context.Context, rec model.DecodedRecord) model.DeliveryOutcome
	Close(ctx context.Context) error
}

type AuthMode string

const (
	AuthBearer     AuthMode = "bearer"
	AuthPayloadKey AuthMode = "payload-key"
)

// Auth decides how a delivery is authenticated. Bearer uses the static gateway token; payload-key
// passes on the api_key the sensor sent, which any transmitter in range can forge.
type Auth struct {
	Mode        AuthMode
	Token       string
	IdentityKey string
}

const (
	headerAuthorization = "Authorization"
	headerAPIKey        = "X-API-KEY"
	headerRequestID     = "X-Request-ID"
)

// identityKey is the body field that carries the record identity.
func (a Auth) identityKey() string {
	if a.IdentityKey != "" {
		return a.IdentityKey
	}
	if a.Mode == AuthPayloadKey {
		return "device_id"
	}
	return "key"
}

// credentials returns the header (or metadata key) and value for rec, or ok=false when there is
// nothing to send.
func (a Auth) credentials(rec model.DecodedRecord) (key, value string, ok bool) {
	switch a.Mode {
	case AuthPayloadKey:
		if !rec.HasAuthToken {
			return "", "", false
		}
		return headerAPIKey, rec.AuthToken, true
	default:
		if a.Token == "" {
			return "", "", false
		}
		return headerAuthorization, "Bearer " + a.Token, true
	}
}

func EncodeBody(a Auth, rec model.DecodedRecord) ([]byte, error) {
	return json.Marshal(model.NewDeliveryBody(a.identityKey(), rec))
}

// logOutcome reports a finished attempt: success at info with the collector's response,
// everything else at error with its cause.
func logOutcome(logger *slog.Logger, rec model.DecodedRecord, requestID string, out model.DeliveryOutcome) {
	switch out.Kind {
	case model.OutcomeDelivered:
		logger.Info("record delivered",
			"identity", rec.Identity,
			"request_id", requestID,
			"status", out.StatusCode,
			"response", out.Response,
		)
	case model.OutcomeRejected:
		logger.Error("collector rejected record",
			"identity", rec.Identity,
			"request_id", requestID,
			"status", out.StatusCode,
			"body", string(out.Body),
			"error", out.Err,
		)
	default:
		logger.Error("delivery failed",
			"identity", rec.Identity,
			"request_id", requestID,
			"error", out.Err,
		)
	}
}
