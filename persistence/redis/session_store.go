package redis

import (
	"context"
	"errors"
	"time"

	rd "github.com/go-redis/redis/v9"
	"github.com/google/uuid"
	"github.com/parley-labs/parley/logger"
	"github.com/parley-labs/parley/model"
	"github.com/parley-labs/parley/persistence"
	"github.com/parley-labs/parley/util"
	c "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const SESSION_KEY string = "SESSION"
const MESSAGE_KEY string = "MSG"
const PREFERENCE_KEY string = "PREF"

const preferenceTTL = 90 * 24 * time.Hour

// authFields survive an order-data reset; clearing them is an explicit,
// separate operation.
var authFields = []string{"auth_token", "auth_status", "customer_id", "phone_verified"}

var transientOrderFields = []string{"cart", "cart_count", "order_draft", "payment_method", "delivery_slot", "address_query"}

// preferenceFields are extracted to a long-lived store before a session is
// destroyed.
var preferenceFields = []string{"language", "preferred_payment", "favorite_vendor", "dietary"}

var _ persistence.SessionStore = new(SessionStore)

type SessionStore struct {
	*baseDao
	cache      *c.Cache
	encDec     util.EncoderDecoder[model.Session]
	msgEncDec  util.EncoderDecoder[model.OutboundMessage]
	sessionTTL time.Duration
	queueTTL   time.Duration
}

func NewRedisSessionStore(conf Config, sessionTTL time.Duration, queueTTL time.Duration, cacheTTL time.Duration) *SessionStore {
	return &SessionStore{
		baseDao: newBaseDao(conf),
		// no janitor goroutine: the owner sweeps via SweepCache
		cache:      c.New(cacheTTL, 0),
		encDec:     util.NewJsonEncoderDecoder[model.Session](),
		msgEncDec:  util.NewJsonEncoderDecoder[model.OutboundMessage](),
		sessionTTL: sessionTTL,
		queueTTL:   queueTTL,
	}
}

// Load reads through the in-memory cache to the durable store. Store
// unavailability degrades to "no session" so the conversation stays
// responsive.
func (rs *SessionStore) Load(ctx context.Context, id string) (*model.Session, error) {
	if cached, ok := rs.cache.Get(id); ok {
		session := cached.(model.Session)
		return &session, nil
	}
	key := rs.getNamespaceKey(SESSION_KEY, id)
	val, err := rs.redisClient.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, rd.Nil) {
			logger.Error("error loading session, treating as new", zap.String("id", id), zap.Error(err))
		}
		return nil, nil
	}
	session, err := rs.encDec.Decode([]byte(val))
	if err != nil {
		return nil, err
	}
	rs.cache.SetDefault(id, *session)
	return session, nil
}

// Save merges the partial into the stored session and refreshes both cache
// and durable TTL. Saving the same partial twice yields the same document.
func (rs *SessionStore) Save(ctx context.Context, id string, partial *model.Session) error {
	existing, err := rs.Load(ctx, id)
	if err != nil {
		return err
	}
	merged := mergeSession(id, existing, partial)
	return rs.writeSession(ctx, id, merged)
}

func (rs *SessionStore) writeSession(ctx context.Context, id string, session *model.Session) error {
	data, err := rs.encDec.Encode(*session)
	if err != nil {
		return err
	}
	key := rs.getNamespaceKey(SESSION_KEY, id)
	if err := rs.redisClient.Set(ctx, key, data, rs.sessionTTL).Err(); err != nil {
		logger.Error("error saving session", zap.String("id", id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	rs.cache.SetDefault(id, *session)
	return nil
}

func mergeSession(id string, existing *model.Session, partial *model.Session) *model.Session {
	if existing == nil {
		existing = model.NewSession(id)
	}
	merged := &model.Session{
		Id:        id,
		States:    make(map[string]string, len(existing.States)),
		Versions:  make(map[string]string, len(existing.Versions)),
		Data:      mergeWorkingData(existing.Data, partial.Data),
		History:   existing.History,
		CreatedAt: existing.CreatedAt,
		UpdatedAt: time.Now(),
	}
	for k, v := range existing.States {
		merged.States[k] = v
	}
	for k, v := range partial.States {
		merged.States[k] = v
	}
	for k, v := range existing.Versions {
		merged.Versions[k] = v
	}
	for k, v := range partial.Versions {
		merged.Versions[k] = v
	}
	if len(partial.History) > 0 {
		merged.History = partial.History
	}
	return merged
}

// mergeWorkingData applies the partial over the existing data. Object fields
// are shallow-merged so unrelated keys collected earlier survive a save.
func mergeWorkingData(existing map[string]any, partial map[string]any) map[string]any {
	merged := make(map[string]any, len(existing)+len(partial))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range partial {
		pm, pok := v.(map[string]any)
		em, eok := existing[k].(map[string]any)
		if pok && eok {
			sub := make(map[string]any, len(em)+len(pm))
			for k2, v2 := range em {
				sub[k2] = v2
			}
			for k2, v2 := range pm {
				sub[k2] = v2
			}
			merged[k] = sub
			continue
		}
		merged[k] = v
	}
	return merged
}

func (rs *SessionStore) InvalidateCache(id string) {
	rs.cache.Delete(id)
}

// SweepCache drops expired cache entries. Called from the owner's background
// tick worker rather than a go-cache janitor goroutine.
func (rs *SessionStore) SweepCache() {
	rs.cache.DeleteExpired()
}

// Terminate extracts durable preferences best-effort, then deletes the
// session. Preference failure never blocks deletion.
func (rs *SessionStore) Terminate(ctx context.Context, id string) error {
	rs.extractPreferences(ctx, id)
	key := rs.getNamespaceKey(SESSION_KEY, id)
	if err := rs.redisClient.Del(ctx, key).Err(); err != nil {
		logger.Error("error deleting session", zap.String("id", id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	rs.cache.Delete(id)
	return nil
}

func (rs *SessionStore) extractPreferences(ctx context.Context, id string) {
	session, err := rs.Load(ctx, id)
	if err != nil || session == nil {
		return
	}
	prefs := make([]string, 0)
	for _, field := range preferenceFields {
		if v, ok := session.Data[field]; ok {
			if s, ok := v.(string); ok && s != "" {
				prefs = append(prefs, field, s)
			}
		}
	}
	if len(prefs) == 0 {
		return
	}
	key := rs.getNamespaceKey(PREFERENCE_KEY, id)
	if err := rs.redisClient.HSet(ctx, key, prefs).Err(); err != nil {
		logger.Warn("preference extraction failed", zap.String("id", id), zap.Error(err))
		return
	}
	rs.redisClient.Expire(ctx, key, preferenceTTL)
}

// GetPreferences reads the long-lived preferences for an identity.
func (rs *SessionStore) GetPreferences(ctx context.Context, id string) (map[string]string, error) {
	key := rs.getNamespaceKey(PREFERENCE_KEY, id)
	res, err := rs.redisClient.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return res, nil
}

func (rs *SessionStore) EnqueueMessage(ctx context.Context, id string, payload map[string]any) error {
	msg := model.OutboundMessage{
		Id:         uuid.New().String(),
		Payload:    payload,
		EnqueuedAt: time.Now(),
	}
	data, err := rs.msgEncDec.Encode(msg)
	if err != nil {
		return err
	}
	key := rs.getNamespaceKey(MESSAGE_KEY, id)
	if err := rs.redisClient.RPush(ctx, key, data).Err(); err != nil {
		logger.Error("error enqueueing message", zap.String("id", id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	rs.redisClient.Expire(ctx, key, rs.queueTTL)
	return nil
}

// PeekMessages returns pending messages without removing them. Removal only
// happens on acknowledgement, which is what makes delivery at-least-once.
func (rs *SessionStore) PeekMessages(ctx context.Context, id string) ([]model.OutboundMessage, error) {
	key := rs.getNamespaceKey(MESSAGE_KEY, id)
	items, err := rs.redisClient.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	messages := make([]model.OutboundMessage, 0, len(items))
	for _, item := range items {
		msg, err := rs.msgEncDec.Decode([]byte(item))
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, nil
}

func (rs *SessionStore) AcknowledgeMessages(ctx context.Context, id string, count int) error {
	key := rs.getNamespaceKey(MESSAGE_KEY, id)
	var err error
	if count <= 0 {
		err = rs.redisClient.Del(ctx, key).Err()
	} else {
		err = rs.redisClient.LPopCount(ctx, key, count).Err()
		if errors.Is(err, rd.Nil) {
			err = nil
		}
	}
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rs *SessionStore) ClearAuthFields(ctx context.Context, id string) error {
	return rs.removeFields(ctx, id, authFields)
}

func (rs *SessionStore) ClearTransientOrderFields(ctx context.Context, id string) error {
	return rs.removeFields(ctx, id, transientOrderFields)
}

func (rs *SessionStore) removeFields(ctx context.Context, id string, fields []string) error {
	// the write may originate from another code path; observe the durable copy
	rs.InvalidateCache(id)
	session, err := rs.Load(ctx, id)
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}
	for _, field := range fields {
		delete(session.Data, field)
	}
	return rs.writeSession(ctx, id, session)
}
