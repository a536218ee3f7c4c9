package store

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/clickprop/internal/model"
)

const (
	paramsKeyBase = "clickprop_params"
	expiryKeyBase = "clickprop_expiry"

	// DefaultTTL is how long a persisted record stays valid.
	DefaultTTL = 30 * 24 * time.Hour
)

func paramsKey(ns string) string { return paramsKeyBase + ":" + ns }
func expiryKey(ns string) string { return expiryKeyBase + ":" + ns }

// ParamStore reads and writes tracked parameters under namespaced keys. It
// is best-effort: storage failures are logged and never returned, so callers
// can always continue propagating.
type ParamStore struct {
	storage Storage
	ttl     time.Duration
	nowFunc func() time.Time
}

// NewParamStore creates a ParamStore over s. A non-positive ttl uses
// DefaultTTL.
func NewParamStore(s Storage, ttl time.Duration) *ParamStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ParamStore{storage: s, ttl: ttl, nowFunc: time.Now}
}

// Read returns the parameters persisted under ns, falling back to the
// legacy non-namespaced pair. A legacy hit is copied to ns and the legacy
// keys are removed. Absent, malformed and expired records yield an empty
// set; malformed and expired ones are deleted.
func (ps *ParamStore) Read(ctx context.Context, ns string) model.Params {
	rec, found, err := ps.load(ctx, paramsKey(ns), expiryKey(ns))
	if err != nil {
		zap.L().Warn("store: read failed", zap.String("namespace", ns), zap.Error(err))
		return model.Params{}
	}
	if found {
		return rec.Params
	}

	rec, found, err = ps.load(ctx, paramsKeyBase, expiryKeyBase)
	if err != nil {
		zap.L().Warn("store: legacy read failed", zap.String("namespace", ns), zap.Error(err))
		return model.Params{}
	}
	if !found {
		return model.Params{}
	}

	if err := ps.save(ctx, ns, rec); err != nil {
		zap.L().Warn("store: legacy migration failed", zap.String("namespace", ns), zap.Error(err))
		return rec.Params
	}
	if err := ps.storage.Delete(ctx, paramsKeyBase, expiryKeyBase); err != nil {
		zap.L().Warn("store: legacy cleanup failed", zap.Error(err))
	}
	zap.L().Debug("store: migrated legacy record", zap.String("namespace", ns))
	return rec.Params
}

// Write persists p under ns with expiry now+TTL and removes the legacy
// pair. Empty sets are not written.
func (ps *ParamStore) Write(ctx context.Context, ns string, p model.Params) {
	if p.IsEmpty() {
		return
	}
	rec := model.Record{Params: p, ExpiresAt: ps.nowFunc().Add(ps.ttl)}
	if err := ps.save(ctx, ns, rec); err != nil {
		zap.L().Warn("store: write failed", zap.String("namespace", ns), zap.Error(err))
		return
	}
	if err := ps.storage.Delete(ctx, paramsKeyBase, expiryKeyBase); err != nil {
		zap.L().Warn("store: legacy cleanup failed", zap.Error(err))
	}
}

// Prune deletes every expired or malformed record pair visible to the
// storage, including the legacy pair. It returns the number of pairs
// removed.
func (ps *ParamStore) Prune(ctx context.Context) (int, error) {
	keys, err := ps.storage.Keys(ctx, expiryKeyBase)
	if err != nil {
		return 0, eris.Wrap(err, "store: list expiry keys")
	}

	now := ps.nowFunc()
	pruned := 0
	for _, ek := range keys {
		prefix, base, rest, ok := splitRecordKey(ek)
		if !ok || base != expiryKeyBase {
			continue
		}
		pk := prefix + paramsKeyBase + rest

		raw, ok, err := ps.storage.Get(ctx, ek)
		if err != nil {
			return pruned, eris.Wrapf(err, "store: get %s", ek)
		}
		if !ok {
			continue
		}
		exp, perr := parseExpiry(raw)
		if perr == nil && !now.After(exp) {
			continue
		}
		if err := ps.storage.Delete(ctx, pk, ek); err != nil {
			return pruned, eris.Wrapf(err, "store: delete %s", pk)
		}
		pruned++
	}
	return pruned, nil
}

// splitRecordKey locates the record base name in key. The base is the first
// ":"-delimited segment that is one of the two base names, so a visitor
// prefix may precede it and the namespace that follows may contain either
// name as text. rest is "" for the legacy pair or ":<ns>" otherwise.
func splitRecordKey(key string) (prefix, base, rest string, ok bool) {
	for i := 0; i <= len(key); {
		seg := key[i:]
		for _, b := range []string{paramsKeyBase, expiryKeyBase} {
			if after, found := strings.CutPrefix(seg, b); found && (after == "" || after[0] == ':') {
				return key[:i], b, after, true
			}
		}
		j := strings.IndexByte(seg, ':')
		if j < 0 {
			break
		}
		i += j + 1
	}
	return "", "", "", false
}

// load reads one record pair. found is false when the pair is absent or was
// invalid (in which case it has been deleted).
func (ps *ParamStore) load(ctx context.Context, pk, ek string) (model.Record, bool, error) {
	raw, ok, err := ps.storage.Get(ctx, pk)
	if err != nil {
		return model.Record{}, false, err
	}
	if !ok {
		return model.Record{}, false, nil
	}
	expRaw, expOK, err := ps.storage.Get(ctx, ek)
	if err != nil {
		return model.Record{}, false, err
	}

	rec, derr := decodeRecord(raw, expRaw, expOK)
	if derr == nil && rec.Valid(ps.nowFunc()) {
		return rec, true, nil
	}

	reason := "expired"
	if derr != nil {
		reason = derr.Error()
	}
	zap.L().Debug("store: discarding record", zap.String("key", pk), zap.String("reason", reason))
	if err := ps.storage.Delete(ctx, pk, ek); err != nil {
		return model.Record{}, false, err
	}
	return model.Record{}, false, nil
}

func (ps *ParamStore) save(ctx context.Context, ns string, rec model.Record) error {
	data, err := json.Marshal(rec.Params)
	if err != nil {
		return eris.Wrap(err, "store: marshal params")
	}
	if err := ps.storage.Set(ctx, paramsKey(ns), string(data)); err != nil {
		return err
	}
	return ps.storage.Set(ctx, expiryKey(ns), strconv.FormatInt(rec.ExpiresAt.UnixMilli(), 10))
}

func decodeRecord(raw, expRaw string, expOK bool) (model.Record, error) {
	if !expOK {
		return model.Record{}, eris.New("store: missing expiry")
	}
	exp, err := parseExpiry(expRaw)
	if err != nil {
		return model.Record{}, err
	}
	var p model.Params
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return model.Record{}, eris.Wrap(err, "store: decode params")
	}
	return model.Record{Params: p, ExpiresAt: exp}, nil
}

func parseExpiry(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return time.Time{}, eris.Wrap(err, "store: parse expiry")
	}
	return time.UnixMilli(ms), nil
}
