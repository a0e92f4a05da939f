package ingestion

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"LedgerStats/internal/event"
)

// SubjectPrefix is the feed subject namespace; the last token names the
// event type.
const SubjectPrefix = "ledger.events."

// EventTypeFromSubject maps ledger.events.<EventType> to its type.
func EventTypeFromSubject(subject string) (event.EventType, error) {
	name, ok := strings.CutPrefix(subject, SubjectPrefix)
	if !ok || name == "" {
		return event.EventTypeUnknown, fmt.Errorf("%w: subject %q outside %s>", event.ErrMalformed, subject, SubjectPrefix)
	}
	et, err := event.ParseEventType(name)
	if err != nil {
		return event.EventTypeUnknown, fmt.Errorf("%w: %v", event.ErrMalformed, err)
	}
	return et, nil
}

// SubjectFor returns the feed subject of an event type.
func SubjectFor(et event.EventType) string {
	return SubjectPrefix + et.String()
}

// ParseRawEvent decodes a feed message using the event type named by its
// subject.
func ParseRawEvent(raw RawEvent) (event.Event, error) {
	et, err := EventTypeFromSubject(raw.Subject)
	if err != nil {
		return nil, err
	}
	return ParseEvent(et, raw.Data)
}

// ParseEvent decodes a JSON payload into a typed event. Every decoding
// failure wraps event.ErrMalformed. Addresses are normalized; field
// validation is left to Event.Validate.
func ParseEvent(et event.EventType, data []byte) (event.Event, error) {
	evt, err := parse(et, data)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", event.ErrMalformed, et, err)
	}
	return evt, nil
}

func parse(et event.EventType, data []byte) (event.Event, error) {
	switch et {
	case event.EventTypeTokenCreated:
		return parseTokenCreated(data)
	case event.EventTypeTransfer, event.EventTypeMintCompleted, event.EventTypeBurnCompleted:
		return parseMovement(et, data)
	case event.EventTypeFreezePartialTokens, event.EventTypeUnfreezePartialTokens, event.EventTypeAddressFrozen:
		return parseFreeze(et, data)
	case event.EventTypeClaimAdded, event.EventTypeClaimChanged, event.EventTypeClaimRemoved, event.EventTypeClaimRevoked:
		return parseClaim(et, data)
	case event.EventTypeComplianceModuleAdded, event.EventTypeComplianceModuleRemoved, event.EventTypeComplianceParamsUpdated:
		return parseCompliance(et, data)
	case event.EventTypeYieldScheduleSet:
		return parseYieldSchedule(data)
	case event.EventTypeYieldPeriodCompleted:
		return parseYieldPeriod(data)
	case event.EventTypeYieldClaimed:
		return parseYieldClaimed(data)
	case event.EventTypeTopicSchemeRegistered, event.EventTypeTopicSchemeRemoved,
		event.EventTypeTrustedIssuerAdded, event.EventTypeTrustedIssuerRemoved:
		return parseRegistry(et, data)
	default:
		return nil, fmt.Errorf("unknown event type %d", et)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Amounts are
// base-unit integers encoded as decimal strings; times are unix seconds.

type headerJSON struct {
	EventID   string `json:"event_id"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

func (h headerJSON) header() event.Header {
	return event.Header{ID: h.EventID, Seq: h.Sequence, Time: fromUnix(h.Timestamp)}
}

func headerOf(evt event.Event) headerJSON {
	return headerJSON{EventID: evt.EventID(), Sequence: evt.Sequence(), Timestamp: toUnix(evt.Timestamp())}
}

func fromUnix(s int64) time.Time {
	if s == 0 {
		return time.Time{}
	}
	return time.Unix(s, 0).UTC()
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func parseAmount(field, s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%s: invalid integer %q", field, s)
	}
	return v, nil
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func addr(s string) string {
	return event.NormalizeAddress(s)
}

type bondJSON struct {
	FaceValue         string `json:"face_value"`
	DenominationAsset string `json:"denomination_asset"`
	Maturity          int64  `json:"maturity"`
}

type tokenCreatedJSON struct {
	headerJSON
	Token    string    `json:"token"`
	System   string    `json:"system"`
	Category string    `json:"category"`
	Decimals uint8     `json:"decimals"`
	Name     string    `json:"name"`
	Symbol   string    `json:"symbol"`
	Bond     *bondJSON `json:"bond,omitempty"`
}

func parseTokenCreated(data []byte) (*event.TokenCreated, error) {
	var j tokenCreatedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	cat, err := event.ParseCategory(j.Category)
	if err != nil {
		return nil, err
	}
	e := &event.TokenCreated{
		Header:   j.header(),
		Token:    addr(j.Token),
		System:   addr(j.System),
		Category: cat,
		Decimals: j.Decimals,
		Name:     j.Name,
		Symbol:   j.Symbol,
	}
	if j.Bond != nil {
		face, err := parseAmount("face_value", j.Bond.FaceValue)
		if err != nil {
			return nil, err
		}
		e.Bond = &event.BondTerms{
			FaceValue:         face,
			DenominationAsset: addr(j.Bond.DenominationAsset),
			Maturity:          fromUnix(j.Bond.Maturity),
		}
	}
	return e, nil
}

type movementJSON struct {
	headerJSON
	Token  string `json:"token"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Amount string `json:"amount"`
}

func parseMovement(et event.EventType, data []byte) (event.Event, error) {
	var j movementJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	h, token := j.header(), addr(j.Token)
	switch et {
	case event.EventTypeTransfer:
		return &event.Transfer{Header: h, Token: token, From: addr(j.From), To: addr(j.To), Amount: amount}, nil
	case event.EventTypeMintCompleted:
		return &event.MintCompleted{Header: h, Token: token, To: addr(j.To), Amount: amount}, nil
	default:
		return &event.BurnCompleted{Header: h, Token: token, From: addr(j.From), Amount: amount}, nil
	}
}

type freezeJSON struct {
	headerJSON
	Token   string `json:"token"`
	Account string `json:"account"`
	Amount  string `json:"amount,omitempty"`
	Frozen  bool   `json:"frozen,omitempty"`
}

func parseFreeze(et event.EventType, data []byte) (event.Event, error) {
	var j freezeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	h, token, account := j.header(), addr(j.Token), addr(j.Account)
	if et == event.EventTypeAddressFrozen {
		return &event.AddressFrozen{Header: h, Token: token, Account: account, Frozen: j.Frozen}, nil
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	if et == event.EventTypeFreezePartialTokens {
		return &event.FreezePartialTokens{Header: h, Token: token, Account: account, Amount: amount}, nil
	}
	return &event.UnfreezePartialTokens{Header: h, Token: token, Account: account, Amount: amount}, nil
}

type claimJSON struct {
	headerJSON
	Subject  string `json:"subject"`
	ClaimID  string `json:"claim_id"`
	Issuer   string `json:"issuer,omitempty"`
	Topic    string `json:"topic,omitempty"`
	Amount   string `json:"amount,omitempty"`
	Decimals uint8  `json:"decimals,omitempty"`
	Currency string `json:"currency,omitempty"`
	Expiry   int64  `json:"expiry,omitempty"`
}

func parseClaim(et event.EventType, data []byte) (event.Event, error) {
	var j claimJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	h := j.header()
	ref := event.ClaimRef{Subject: addr(j.Subject), ClaimID: j.ClaimID}
	switch et {
	case event.EventTypeClaimRemoved:
		return &event.ClaimRemoved{Header: h, ClaimRef: ref}, nil
	case event.EventTypeClaimRevoked:
		return &event.ClaimRevoked{Header: h, ClaimRef: ref}, nil
	}

	topic, err := event.ParseClaimTopic(j.Topic)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	d := event.ClaimData{
		Subject:  ref.Subject,
		ClaimID:  ref.ClaimID,
		Issuer:   addr(j.Issuer),
		Topic:    topic,
		Amount:   amount,
		Decimals: j.Decimals,
		Currency: j.Currency,
		Expiry:   fromUnix(j.Expiry),
	}
	if et == event.EventTypeClaimAdded {
		return &event.ClaimAdded{Header: h, ClaimData: d}, nil
	}
	return &event.ClaimChanged{Header: h, ClaimData: d}, nil
}

type complianceJSON struct {
	headerJSON
	Token  string `json:"token"`
	Module string `json:"module"`
}

func parseCompliance(et event.EventType, data []byte) (event.Event, error) {
	var j complianceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	h, token, module := j.header(), addr(j.Token), addr(j.Module)
	switch et {
	case event.EventTypeComplianceModuleAdded:
		return &event.ComplianceModuleAdded{Header: h, Token: token, Module: module}, nil
	case event.EventTypeComplianceModuleRemoved:
		return &event.ComplianceModuleRemoved{Header: h, Token: token, Module: module}, nil
	default:
		return &event.ComplianceParamsUpdated{Header: h, Token: token, Module: module}, nil
	}
}

type yieldScheduleJSON struct {
	headerJSON
	Token             string `json:"token"`
	Schedule          string `json:"schedule"`
	DenominationAsset string `json:"denomination_asset"`
	RateBps           int64  `json:"rate_bps"`
	Start             int64  `json:"start"`
	End               int64  `json:"end"`
	IntervalSeconds   int64  `json:"interval_seconds"`
}

func parseYieldSchedule(data []byte) (*event.YieldScheduleSet, error) {
	var j yieldScheduleJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	return &event.YieldScheduleSet{
		Header:            j.header(),
		Token:             addr(j.Token),
		Schedule:          addr(j.Schedule),
		DenominationAsset: addr(j.DenominationAsset),
		RateBps:           j.RateBps,
		Start:             fromUnix(j.Start),
		End:               fromUnix(j.End),
		Interval:          time.Duration(j.IntervalSeconds) * time.Second,
	}, nil
}

type yieldPeriodJSON struct {
	headerJSON
	Schedule string `json:"schedule"`
	Period   int64  `json:"period"`
	Amount   string `json:"amount,omitempty"`
}

func parseYieldPeriod(data []byte) (*event.YieldPeriodCompleted, error) {
	var j yieldPeriodJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.YieldPeriodCompleted{Header: j.header(), Schedule: addr(j.Schedule), Period: j.Period, Amount: amount}, nil
}

type yieldClaimedJSON struct {
	headerJSON
	Schedule string `json:"schedule"`
	Holder   string `json:"holder"`
	Amount   string `json:"amount"`
}

func parseYieldClaimed(data []byte) (*event.YieldClaimed, error) {
	var j yieldClaimedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.YieldClaimed{Header: j.header(), Schedule: addr(j.Schedule), Holder: addr(j.Holder), Amount: amount}, nil
}

type registryJSON struct {
	headerJSON
	Registry string `json:"registry"`
	Topic    string `json:"topic,omitempty"`
	Issuer   string `json:"issuer,omitempty"`
}

func parseRegistry(et event.EventType, data []byte) (event.Event, error) {
	var j registryJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	h, registry := j.header(), addr(j.Registry)
	switch et {
	case event.EventTypeTopicSchemeRegistered:
		return &event.TopicSchemeRegistered{Header: h, Registry: registry, Topic: j.Topic}, nil
	case event.EventTypeTopicSchemeRemoved:
		return &event.TopicSchemeRemoved{Header: h, Registry: registry, Topic: j.Topic}, nil
	case event.EventTypeTrustedIssuerAdded:
		return &event.TrustedIssuerAdded{Header: h, Registry: registry, Issuer: addr(j.Issuer)}, nil
	default:
		return &event.TrustedIssuerRemoved{Header: h, Registry: registry, Issuer: addr(j.Issuer)}, nil
	}
}

// EncodeEvent renders an event in the feed's wire format. ParseEvent of
// the result yields an equal event.
func EncodeEvent(evt event.Event) ([]byte, error) {
	h := headerOf(evt)
	var v interface{}
	switch e := evt.(type) {
	case *event.TokenCreated:
		j := tokenCreatedJSON{
			headerJSON: h, Token: e.Token, System: e.System, Category: e.Category.String(),
			Decimals: e.Decimals, Name: e.Name, Symbol: e.Symbol,
		}
		if e.Bond != nil {
			j.Bond = &bondJSON{
				FaceValue:         formatAmount(e.Bond.FaceValue),
				DenominationAsset: e.Bond.DenominationAsset,
				Maturity:          toUnix(e.Bond.Maturity),
			}
		}
		v = j
	case *event.Transfer:
		v = movementJSON{headerJSON: h, Token: e.Token, From: e.From, To: e.To, Amount: formatAmount(e.Amount)}
	case *event.MintCompleted:
		v = movementJSON{headerJSON: h, Token: e.Token, To: e.To, Amount: formatAmount(e.Amount)}
	case *event.BurnCompleted:
		v = movementJSON{headerJSON: h, Token: e.Token, From: e.From, Amount: formatAmount(e.Amount)}
	case *event.FreezePartialTokens:
		v = freezeJSON{headerJSON: h, Token: e.Token, Account: e.Account, Amount: formatAmount(e.Amount)}
	case *event.UnfreezePartialTokens:
		v = freezeJSON{headerJSON: h, Token: e.Token, Account: e.Account, Amount: formatAmount(e.Amount)}
	case *event.AddressFrozen:
		v = freezeJSON{headerJSON: h, Token: e.Token, Account: e.Account, Frozen: e.Frozen}
	case *event.ClaimAdded:
		v = claimDataJSON(h, e.ClaimData)
	case *event.ClaimChanged:
		v = claimDataJSON(h, e.ClaimData)
	case *event.ClaimRemoved:
		v = claimJSON{headerJSON: h, Subject: e.Subject, ClaimID: e.ClaimID}
	case *event.ClaimRevoked:
		v = claimJSON{headerJSON: h, Subject: e.Subject, ClaimID: e.ClaimID}
	case *event.ComplianceModuleAdded:
		v = complianceJSON{headerJSON: h, Token: e.Token, Module: e.Module}
	case *event.ComplianceModuleRemoved:
		v = complianceJSON{headerJSON: h, Token: e.Token, Module: e.Module}
	case *event.ComplianceParamsUpdated:
		v = complianceJSON{headerJSON: h, Token: e.Token, Module: e.Module}
	case *event.YieldScheduleSet:
		v = yieldScheduleJSON{
			headerJSON: h, Token: e.Token, Schedule: e.Schedule, DenominationAsset: e.DenominationAsset,
			RateBps: e.RateBps, Start: toUnix(e.Start), End: toUnix(e.End),
			IntervalSeconds: int64(e.Interval / time.Second),
		}
	case *event.YieldPeriodCompleted:
		v = yieldPeriodJSON{headerJSON: h, Schedule: e.Schedule, Period: e.Period, Amount: formatAmount(e.Amount)}
	case *event.YieldClaimed:
		v = yieldClaimedJSON{headerJSON: h, Schedule: e.Schedule, Holder: e.Holder, Amount: formatAmount(e.Amount)}
	case *event.TopicSchemeRegistered:
		v = registryJSON{headerJSON: h, Registry: e.Registry, Topic: e.Topic}
	case *event.TopicSchemeRemoved:
		v = registryJSON{headerJSON: h, Registry: e.Registry, Topic: e.Topic}
	case *event.TrustedIssuerAdded:
		v = registryJSON{headerJSON: h, Registry: e.Registry, Issuer: e.Issuer}
	case *event.TrustedIssuerRemoved:
		v = registryJSON{headerJSON: h, Registry: e.Registry, Issuer: e.Issuer}
	default:
		return nil, fmt.Errorf("encode: unsupported event %T", evt)
	}
	return json.Marshal(v)
}

func claimDataJSON(h headerJSON, d event.ClaimData) claimJSON {
	return claimJSON{
		headerJSON: h,
		Subject:    d.Subject,
		ClaimID:    d.ClaimID,
		Issuer:     d.Issuer,
		Topic:      d.Topic.String(),
		Amount:     formatAmount(d.Amount),
		Decimals:   d.Decimals,
		Currency:   d.Currency,
		Expiry:     toUnix(d.Expiry),
	}
}
