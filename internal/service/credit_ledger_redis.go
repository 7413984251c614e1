package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/gema-grader/internal/models"
)

// Each script checks and mutates the balance and appends the audit entry in one server-side
// step. Entries are JSON objects whose trailing balance_after field is filled in by the
// script, so ARGV carries the entry without its closing brace.
var (
	redisDebitScript = redis.NewScript(`
local balance = redis.call('GET', KEYS[1])
if not balance then return -1 end
if tonumber(balance) < tonumber(ARGV[1]) then return -2 end
local after = redis.call('DECRBY', KEYS[1], ARGV[1])
redis.call('LPUSH', KEYS[2], ARGV[2] .. ',"balance_after":' .. after .. '}')
redis.call('LTRIM', KEYS[2], 0, tonumber(ARGV[3]) - 1)
return after
`)

	redisCreditScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local after = redis.call('INCRBY', KEYS[1], ARGV[1])
redis.call('LPUSH', KEYS[2], ARGV[2] .. ',"balance_after":' .. after .. '}')
redis.call('LTRIM', KEYS[2], 0, tonumber(ARGV[3]) - 1)
return after
`)

	redisOpenScript = redis.NewScript(`
if redis.call('SETNX', KEYS[1], ARGV[1]) == 0 then return 0 end
if tonumber(ARGV[1]) > 0 then
  redis.call('LPUSH', KEYS[2], ARGV[2] .. ',"balance_after":' .. ARGV[1] .. '}')
end
return 1
`)
)

const (
	redisLedgerUnknownUser  = -1
	redisLedgerInsufficient = -2
	redisLedgerHistoryLimit = 1000
)

// RedisCreditLedger stores balances as Redis integers under <prefix>:balance:<user>.
type RedisCreditLedger struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisCreditLedger builds a ledger on top of the given client. An empty prefix defaults
// to "gema:credits".
func NewRedisCreditLedger(client *redis.Client, prefix string) *RedisCreditLedger {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "gema:credits"
	}
	return &RedisCreditLedger{client: client, prefix: prefix, now: time.Now}
}

func (l *RedisCreditLedger) balanceKey(userID uint) string {
	return fmt.Sprintf("%s:balance:%d", l.prefix, userID)
}

func (l *RedisCreditLedger) historyKey(userID uint) string {
	return fmt.Sprintf("%s:transactions:%d", l.prefix, userID)
}

func (l *RedisCreditLedger) GetBalance(ctx context.Context, userID uint) (int64, error) {
	balance, err := l.client.Get(ctx, l.balanceKey(userID)).Int64()
	if err == redis.Nil {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read credit balance: %w", err)
	}
	return balance, nil
}

func (l *RedisCreditLedger) Debit(ctx context.Context, userID uint, amount int64, reason string) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidAmount
	}

	result, err := l.run(ctx, redisDebitScript, userID, amount, -amount, reason)
	if err != nil {
		return false, fmt.Errorf("debit credits: %w", err)
	}
	switch result {
	case redisLedgerUnknownUser:
		return false, ErrUserNotFound
	case redisLedgerInsufficient:
		return false, nil
	default:
		return true, nil
	}
}

func (l *RedisCreditLedger) Credit(ctx context.Context, userID uint, amount int64, reason string) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidAmount
	}

	result, err := l.run(ctx, redisCreditScript, userID, amount, amount, reason)
	if err != nil {
		return false, fmt.Errorf("credit credits: %w", err)
	}
	if result == redisLedgerUnknownUser {
		return false, ErrUserNotFound
	}
	return true, nil
}

func (l *RedisCreditLedger) OpenAccount(ctx context.Context, userID uint, initial int64) error {
	if initial < 0 {
		return ErrInvalidAmount
	}

	entry, err := l.entryPrefix(userID, initial, "opening balance")
	if err != nil {
		return err
	}
	keys := []string{l.balanceKey(userID), l.historyKey(userID)}
	if err := redisOpenScript.Run(ctx, l.client, keys, initial, entry).Err(); err != nil {
		return fmt.Errorf("open credit account: %w", err)
	}
	return nil
}

func (l *RedisCreditLedger) Transactions(ctx context.Context, userID uint, limit int) ([]models.CreditTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	exists, err := l.client.Exists(ctx, l.balanceKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read credit account: %w", err)
	}
	if exists == 0 {
		return nil, ErrUserNotFound
	}

	raw, err := l.client.LRange(ctx, l.historyKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read credit transactions: %w", err)
	}

	transactions := make([]models.CreditTransaction, 0, len(raw))
	for _, item := range raw {
		var tx models.CreditTransaction
		if err := json.Unmarshal([]byte(item), &tx); err != nil {
			return nil, fmt.Errorf("decode credit transaction: %w", err)
		}
		transactions = append(transactions, tx)
	}
	return transactions, nil
}

func (l *RedisCreditLedger) run(ctx context.Context, script *redis.Script, userID uint, amount, signed int64, reason string) (int64, error) {
	entry, err := l.entryPrefix(userID, signed, reason)
	if err != nil {
		return 0, err
	}
	keys := []string{l.balanceKey(userID), l.historyKey(userID)}
	return script.Run(ctx, l.client, keys, amount, entry, strconv.Itoa(redisLedgerHistoryLimit)).Int64()
}

// entryPrefix renders the transaction JSON without its closing brace.
func (l *RedisCreditLedger) entryPrefix(userID uint, amount int64, reason string) (string, error) {
	payload, err := json.Marshal(struct {
		UserID    uint      `json:"user_id"`
		Amount    int64     `json:"amount"`
		Reason    string    `json:"reason"`
		CreatedAt time.Time `json:"created_at"`
	}{UserID: userID, Amount: amount, Reason: reason, CreatedAt: l.now().UTC()})
	if err != nil {
		return "", fmt.Errorf("encode credit transaction: %w", err)
	}
	return strings.TrimSuffix(string(payload), "}"), nil
}
