package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"studyhub/pkg/models"

	"go.uber.org/zap"
)

// SignatureHeader - заголовок с HMAC-SHA256 подписью тела запроса в hex
const SignatureHeader = "X-Payment-Signature"

const maxBodySize = 1 << 20

// Attributor привязывает завершенный платеж к создателю
type Attributor interface {
	Attribute(ctx context.Context, ev models.PaymentCompletedEvent) (*models.PaymentAttribution, error)
}

// PaymentWebhookHandler принимает события платежного шлюза
type PaymentWebhookHandler struct {
	attributor Attributor
	logger     *zap.Logger
	secretKey  string
}

// NewPaymentWebhookHandler создает обработчик событий об оплате
func NewPaymentWebhookHandler(attributor Attributor, secretKey string, logger *zap.Logger) *PaymentWebhookHandler {
	return &PaymentWebhookHandler{
		attributor: attributor,
		logger:     logger,
		secretKey:  secretKey,
	}
}

// PaymentWebhook представляет событие платежного шлюза
type PaymentWebhook struct {
	Event   string                       `json:"event"`
	Payment models.PaymentCompletedEvent `json:"payment"`
}

// HandleWebhook проверяет подпись и передает завершенный платеж на привязку.
// Повторная доставка отвечает 200 с уже сохраненной записью.
func (h *PaymentWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.logger.Warn("неверный метод webhook запроса", zap.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.logger.Error("ошибка чтения тела запроса", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	defer r.Body.Close()

	if !h.verifySignature(r.Header.Get(SignatureHeader), body) {
		h.logger.Warn("неверная подпись webhook'а", zap.String("remote_addr", r.RemoteAddr))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var webhook PaymentWebhook
	if err := json.Unmarshal(body, &webhook); err != nil {
		h.logger.Error("ошибка парсинга webhook'а", zap.Error(err))
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	h.logger.Info("получен webhook об оплате",
		zap.String("event", webhook.Event),
		zap.String("order_id", webhook.Payment.OrderID))

	if webhook.Event != "payment.completed" {
		h.logger.Info("событие webhook'а пропущено", zap.String("event", webhook.Event))
		w.WriteHeader(http.StatusNoContent)
		return
	}

	attribution, err := h.attributor.Attribute(r.Context(), webhook.Payment)
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			h.logger.Warn("некорректное событие об оплате", zap.Error(err))
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Error(), "field": verr.Field})
			return
		}
		h.logger.Error("ошибка привязки платежа",
			zap.String("order_id", webhook.Payment.OrderID),
			zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, attribution)
}

// verifySignature проверяет подпись. Без настроенного секрета проверка отключена.
func (h *PaymentWebhookHandler) verifySignature(signature string, body []byte) bool {
	if h.secretKey == "" {
		return true
	}
	if signature == "" {
		return false
	}

	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, Sign(h.secretKey, body))
}

// Sign вычисляет HMAC-SHA256 тела запроса
func Sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
