package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	trmpgx "github.com/avito-tech/go-transaction-manager/drivers/pgxv5/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/spinroom/roulette-engine/internal/model"
)

//go:embed schema.sql
var schemaSQL string

const (
	tableParticipants = "participants"
	tableRounds       = "rounds"
	tableBets         = "bets"
	tableItems        = "items"
	tableState        = "kv_state"

	pgUniqueViolation = "23505"
)

var (
	psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

	participantColumns = []string{
		"p.id", "p.name", "p.balance::TEXT", "p.xp", "p.level", "p.daily::TEXT",
		"p.daily_cooldown", "p.default_bet::TEXT", "p.trade_url", "p.created_at",
	}
	roundColumns = []string{"id", "result_number", "result_color", "created_at", "settled_at"}
	betColumns   = []string{
		"id", "participant_id", "round_id", "amount::TEXT", "color", "is_correct", "settled",
		"balance_before::TEXT", "balance_after::TEXT", "created_at",
	}
	itemColumns = []string{
		"id", "participant_id", "name", "buy_price::TEXT", "sell_price::TEXT", "priced_at", "created_at",
	}
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Multi-statement operations run inside a transaction from trm; queries
// pick up the ambient transaction from the context.
type PostgresStore struct {
	pool   *pgxpool.Pool
	trm    trm.Manager
	getter *trmpgx.CtxGetter
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool, manager trm.Manager) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		trm:    manager,
		getter: trmpgx.DefaultCtxGetter,
	}
}

// Migrate creates the schema if it does not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) db(ctx context.Context) trmpgx.Tr {
	return s.getter.DefaultTrOrDB(ctx, s.pool)
}

func numeric(d decimal.Decimal) sq.Sqlizer {
	return sq.Expr("?::NUMERIC", d.String())
}

func nullableNumeric(d *decimal.Decimal) sq.Sqlizer {
	if d == nil {
		return sq.Expr("NULL")
	}
	return numeric(*d)
}

// --- Participants ---

func (s *PostgresStore) CreateParticipant(ctx context.Context, p *model.Participant) (*model.Participant, bool, error) {
	query := psql.Insert(tableParticipants).
		Columns("id", "name", "balance", "xp", "level", "daily", "daily_cooldown", "default_bet", "trade_url", "created_at").
		Values(p.ID, p.Name, numeric(p.Balance.Round(model.MoneyScale)), p.XP, p.Level, numeric(p.Daily),
			p.DailyCooldown, numeric(p.DefaultBet), p.TradeURL, p.CreatedAt).
		Suffix("ON CONFLICT (id) DO NOTHING")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, false, err
	}
	tag, err := s.db(ctx).Exec(ctx, sqlStr, args...)
	if err != nil {
		return nil, false, fmt.Errorf("create participant %s: %w", p.ID, err)
	}

	got, err := s.GetParticipant(ctx, p.ID)
	if err != nil {
		return nil, false, err
	}
	return got, tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) GetParticipant(ctx context.Context, id string) (*model.Participant, error) {
	return s.selectParticipant(ctx, id, false)
}

func (s *PostgresStore) selectParticipant(ctx context.Context, id string, forUpdate bool) (*model.Participant, error) {
	query := psql.Select(participantColumns...).
		From(tableParticipants + " p").
		Where(sq.Eq{"p.id": id})
	if forUpdate {
		query = query.Suffix("FOR UPDATE")
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}
	p, err := scanParticipant(s.db(ctx).QueryRow(ctx, sqlStr, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("participant %s: %w", id, ErrNotRegistered)
	}
	if err != nil {
		return nil, fmt.Errorf("get participant %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) UpdateParticipant(ctx context.Context, id string, fn func(p *model.Participant) error) (*model.Participant, error) {
	var out *model.Participant
	err := s.trm.Do(ctx, func(ctx context.Context) error {
		p, err := s.selectParticipant(ctx, id, true)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
		p.ID = id
		p.Balance = p.Balance.Round(model.MoneyScale)
		if err := s.writeParticipant(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) writeParticipant(ctx context.Context, p *model.Participant) error {
	query := psql.Update(tableParticipants).
		SetMap(map[string]interface{}{
			"name":           p.Name,
			"balance":        numeric(p.Balance),
			"xp":             p.XP,
			"level":          p.Level,
			"daily":          numeric(p.Daily),
			"daily_cooldown": p.DailyCooldown,
			"default_bet":    numeric(p.DefaultBet),
			"trade_url":      p.TradeURL,
		}).
		Where(sq.Eq{"id": p.ID})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return err
	}
	_, err = s.db(ctx).Exec(ctx, sqlStr, args...)
	return err
}

func (s *PostgresStore) AdjustBalance(ctx context.Context, id string, delta decimal.Decimal) (*model.Participant, error) {
	return s.UpdateParticipant(ctx, id, func(p *model.Participant) error {
		next := p.Balance.Add(delta).Round(model.MoneyScale)
		if next.IsNegative() {
			return fmt.Errorf("adjust %s by %s: %w", id, delta, ErrInsufficientBalance)
		}
		p.Balance = next
		return nil
	})
}

func (s *PostgresStore) SetDefaultBet(ctx context.Context, id string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return s.updateColumn(ctx, id, "default_bet", numeric(amount.Round(model.MoneyScale)))
}

func (s *PostgresStore) SetDailyCooldown(ctx context.Context, id string, at time.Time) error {
	return s.updateColumn(ctx, id, "daily_cooldown", at)
}

func (s *PostgresStore) SetTradeURL(ctx context.Context, id string, url string) error {
	return s.updateColumn(ctx, id, "trade_url", url)
}

func (s *PostgresStore) updateColumn(ctx context.Context, id, column string, value interface{}) error {
	sqlStr, args, err := psql.Update(tableParticipants).
		Set(column, value).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}
	tag, err := s.db(ctx).Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("update %s for %s: %w", column, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("participant %s: %w", id, ErrNotRegistered)
	}
	return nil
}

func (s *PostgresStore) DeleteParticipant(ctx context.Context, id string) error {
	sqlStr, args, err := psql.Delete(tableParticipants).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	tag, err := s.db(ctx).Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("delete participant %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("participant %s: %w", id, ErrNotRegistered)
	}
	return nil
}

func (s *PostgresStore) statsQuery() sq.SelectBuilder {
	cols := append(append([]string{}, participantColumns...),
		"COUNT(b.id)", "COALESCE(SUM(b.amount), 0)::TEXT")
	return psql.Select(cols...).
		From(tableParticipants + " p").
		LeftJoin(tableBets + " b ON b.participant_id = p.id").
		GroupBy("p.id")
}

func (s *PostgresStore) GetParticipantStats(ctx context.Context, id string) (*model.ParticipantStats, error) {
	sqlStr, args, err := s.statsQuery().Where(sq.Eq{"p.id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	st, err := scanParticipantStats(s.db(ctx).QueryRow(ctx, sqlStr, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("participant %s: %w", id, ErrNotRegistered)
	}
	if err != nil {
		return nil, fmt.Errorf("get stats %s: %w", id, err)
	}
	return st, nil
}

func (s *PostgresStore) ListParticipantStats(ctx context.Context) ([]model.ParticipantStats, error) {
	sqlStr, args, err := s.statsQuery().OrderBy("p.id").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db(ctx).Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ParticipantStats
	for rows.Next() {
		st, err := scanParticipantStats(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// --- Rounds ---

func (s *PostgresStore) CreateRound(ctx context.Context, r *model.Round) error {
	sqlStr, args, err := psql.Insert(tableRounds).
		Columns(roundColumns...).
		Values(r.ID, r.ResultNumber, string(r.ResultColor), r.CreatedAt, r.SettledAt).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db(ctx).Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("create round %s: %w", r.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetRound(ctx context.Context, id string) (*model.Round, error) {
	return s.selectRound(ctx, psql.Select(roundColumns...).From(tableRounds).Where(sq.Eq{"id": id}), id)
}

func (s *PostgresStore) selectRound(ctx context.Context, query sq.SelectBuilder, id string) (*model.Round, error) {
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}
	r, err := scanRound(s.db(ctx).QueryRow(ctx, sqlStr, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("round %s: %w", id, ErrRoundNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get round %s: %w", id, err)
	}
	return r, nil
}

func (s *PostgresStore) GetCurrentRound(ctx context.Context) (*model.Round, error) {
	r, err := s.selectRound(ctx,
		psql.Select(roundColumns...).From(tableRounds).OrderBy("created_at DESC").Limit(1), "current")
	if errors.Is(err, ErrRoundNotFound) {
		return nil, nil
	}
	return r, err
}

func (s *PostgresStore) ListRecentRounds(ctx context.Context, n int) ([]model.Round, error) {
	if n <= 0 {
		return nil, nil
	}
	sqlStr, args, err := psql.Select(roundColumns...).
		From(tableRounds).
		OrderBy("created_at DESC").
		Limit(uint64(n)).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db(ctx).Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rounds []model.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Newest first from the query; callers want chronological order.
	for i, j := 0, len(rounds)-1; i < j; i, j = i+1, j-1 {
		rounds[i], rounds[j] = rounds[j], rounds[i]
	}
	return rounds, nil
}

func (s *PostgresStore) CountRounds(ctx context.Context) (int64, error) {
	sqlStr, args, err := psql.Select("COUNT(*)").From(tableRounds).ToSql()
	if err != nil {
		return 0, err
	}
	var n int64
	err = s.db(ctx).QueryRow(ctx, sqlStr, args...).Scan(&n)
	return n, err
}

// --- Bets ---

func (s *PostgresStore) PlaceBet(ctx context.Context, b *model.Bet) (*model.Participant, error) {
	if !b.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var out *model.Participant
	err := s.trm.Do(ctx, func(ctx context.Context) error {
		r, err := s.selectRound(ctx,
			psql.Select(roundColumns...).From(tableRounds).Where(sq.Eq{"id": b.RoundID}).Suffix("FOR SHARE"), b.RoundID)
		if err != nil {
			return err
		}
		if r.Settled() {
			return fmt.Errorf("round %s: %w", b.RoundID, ErrAlreadySettled)
		}

		p, err := s.selectParticipant(ctx, b.ParticipantID, true)
		if err != nil {
			return err
		}
		if _, err := s.GetBet(ctx, b.ParticipantID, b.RoundID); err == nil {
			return ErrDuplicateBet
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if b.Amount.GreaterThan(p.Balance) {
			return fmt.Errorf("bet %s > balance %s: %w", b.Amount, p.Balance, ErrInsufficientBalance)
		}

		b.BalanceBefore = p.Balance
		p.Balance = p.Balance.Sub(b.Amount).Round(model.MoneyScale)
		b.BalanceAfter = p.Balance

		if err := s.updateColumn(ctx, p.ID, "balance", numeric(p.Balance)); err != nil {
			return err
		}

		sqlStr, args, err := psql.Insert(tableBets).
			Columns("id", "participant_id", "round_id", "amount", "color", "is_correct", "settled",
				"balance_before", "balance_after", "created_at").
			Values(b.ID, b.ParticipantID, b.RoundID, numeric(b.Amount), string(b.Color), false, false,
				numeric(b.BalanceBefore), numeric(b.BalanceAfter), b.CreatedAt).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := s.db(ctx).Exec(ctx, sqlStr, args...); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				return ErrDuplicateBet
			}
			return fmt.Errorf("insert bet %s: %w", b.ID, err)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) GetBet(ctx context.Context, participantID, roundID string) (*model.Bet, error) {
	sqlStr, args, err := psql.Select(betColumns...).
		From(tableBets).
		Where(sq.Eq{"participant_id": participantID, "round_id": roundID}).
		ToSql()
	if err != nil {
		return nil, err
	}
	b, err := scanBet(s.db(ctx).QueryRow(ctx, sqlStr, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *PostgresStore) ListBetsByRound(ctx context.Context, roundID string) ([]model.Bet, error) {
	return s.listBets(ctx, sq.Eq{"round_id": roundID})
}

func (s *PostgresStore) ListBetsByParticipant(ctx context.Context, participantID string) ([]model.Bet, error) {
	return s.listBets(ctx, sq.Eq{"participant_id": participantID})
}

func (s *PostgresStore) listBets(ctx context.Context, where sq.Eq) ([]model.Bet, error) {
	sqlStr, args, err := psql.Select(betColumns...).From(tableBets).Where(where).OrderBy("seq").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db(ctx).Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bets []model.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		bets = append(bets, *b)
	}
	return bets, rows.Err()
}

func (s *PostgresStore) SettleRound(ctx context.Context, roundID string, settledAt time.Time, settlements []model.BetSettlement) error {
	return s.trm.Do(ctx, func(ctx context.Context) error {
		r, err := s.selectRound(ctx,
			psql.Select(roundColumns...).From(tableRounds).Where(sq.Eq{"id": roundID}).Suffix("FOR UPDATE"), roundID)
		if err != nil {
			return err
		}
		if r.Settled() {
			return fmt.Errorf("round %s: %w", roundID, ErrAlreadySettled)
		}

		for _, st := range settlements {
			sqlStr, args, err := psql.Update(tableParticipants).
				Set("balance", sq.Expr("balance + ?::NUMERIC", st.Payout.String())).
				Where(sq.Eq{"id": st.ParticipantID}).
				Suffix("RETURNING balance::TEXT").
				ToSql()
			if err != nil {
				return err
			}
			var balanceS string
			err = s.db(ctx).QueryRow(ctx, sqlStr, args...).Scan(&balanceS)
			if errors.Is(err, pgx.ErrNoRows) {
				continue // participant deleted mid-round
			}
			if err != nil {
				return fmt.Errorf("credit %s: %w", st.ParticipantID, err)
			}
			balance, _ := decimal.NewFromString(balanceS)

			sqlStr, args, err = psql.Update(tableBets).
				SetMap(map[string]interface{}{
					"is_correct":    st.IsCorrect,
					"settled":       true,
					"balance_after": numeric(balance),
				}).
				Where(sq.Eq{"id": st.BetID, "round_id": roundID}).
				ToSql()
			if err != nil {
				return err
			}
			if _, err := s.db(ctx).Exec(ctx, sqlStr, args...); err != nil {
				return fmt.Errorf("settle bet %s: %w", st.BetID, err)
			}
		}

		sqlStr, args, err := psql.Update(tableRounds).
			Set("settled_at", settledAt).
			Where(sq.Eq{"id": roundID}).
			ToSql()
		if err != nil {
			return err
		}
		_, err = s.db(ctx).Exec(ctx, sqlStr, args...)
		return err
	})
}

// --- Key/value state ---

func (s *PostgresStore) GetState(ctx context.Context, key string) (string, error) {
	sqlStr, args, err := psql.Select("value").From(tableState).Where(sq.Eq{"key": key}).ToSql()
	if err != nil {
		return "", err
	}
	var v string
	err = s.db(ctx).QueryRow(ctx, sqlStr, args...).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return v, err
}

func (s *PostgresStore) SetState(ctx context.Context, key, value string) error {
	sqlStr, args, err := psql.Insert(tableState).
		Columns("key", "value").
		Values(key, value).
		Suffix("ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value").
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db(ctx).Exec(ctx, sqlStr, args...)
	return err
}

// --- Marketplace items ---

func (s *PostgresStore) UpsertItem(ctx context.Context, it *model.Item) error {
	sqlStr, args, err := psql.Insert(tableItems).
		Columns("id", "participant_id", "name", "buy_price", "sell_price", "priced_at", "created_at").
		Values(it.ID, it.ParticipantID, it.Name, nullableNumeric(it.BuyPrice), nullableNumeric(it.SellPrice),
			it.PricedAt, it.CreatedAt).
		Suffix(`ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name,
			buy_price = EXCLUDED.buy_price, sell_price = EXCLUDED.sell_price, priced_at = EXCLUDED.priced_at`).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db(ctx).Exec(ctx, sqlStr, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return fmt.Errorf("participant %s: %w", it.ParticipantID, ErrNotRegistered)
		}
		return fmt.Errorf("upsert item %s: %w", it.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListItemsByParticipant(ctx context.Context, participantID string) ([]model.Item, error) {
	sqlStr, args, err := psql.Select(itemColumns...).
		From(tableItems).
		Where(sq.Eq{"participant_id": participantID}).
		OrderBy("created_at").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db(ctx).Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		var it model.Item
		var buyS, sellS *string
		if err := rows.Scan(&it.ID, &it.ParticipantID, &it.Name, &buyS, &sellS, &it.PricedAt, &it.CreatedAt); err != nil {
			return nil, err
		}
		it.BuyPrice = parseNullableDecimal(buyS)
		it.SellPrice = parseNullableDecimal(sellS)
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpdateItemPrices(ctx context.Context, itemID string, buy, sell *decimal.Decimal, pricedAt time.Time) error {
	sqlStr, args, err := psql.Update(tableItems).
		SetMap(map[string]interface{}{
			"buy_price":  nullableNumeric(buy),
			"sell_price": nullableNumeric(sell),
			"priced_at":  pricedAt,
		}).
		Where(sq.Eq{"id": itemID}).
		ToSql()
	if err != nil {
		return err
	}
	tag, err := s.db(ctx).Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("update item %s: %w", itemID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s: %w", itemID, ErrNotFound)
	}
	return nil
}

// --- Row scanning ---

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanParticipant(row rowScanner) (*model.Participant, error) {
	var p model.Participant
	var balanceS, dailyS, defaultBetS string
	if err := row.Scan(&p.ID, &p.Name, &balanceS, &p.XP, &p.Level, &dailyS,
		&p.DailyCooldown, &defaultBetS, &p.TradeURL, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Balance, _ = decimal.NewFromString(balanceS)
	p.Daily, _ = decimal.NewFromString(dailyS)
	p.DefaultBet, _ = decimal.NewFromString(defaultBetS)
	return &p, nil
}

func scanParticipantStats(row rowScanner) (*model.ParticipantStats, error) {
	var st model.ParticipantStats
	var balanceS, dailyS, defaultBetS, wageredS string
	p := &st.Participant
	if err := row.Scan(&p.ID, &p.Name, &balanceS, &p.XP, &p.Level, &dailyS,
		&p.DailyCooldown, &defaultBetS, &p.TradeURL, &p.CreatedAt,
		&st.TotalBets, &wageredS); err != nil {
		return nil, err
	}
	p.Balance, _ = decimal.NewFromString(balanceS)
	p.Daily, _ = decimal.NewFromString(dailyS)
	p.DefaultBet, _ = decimal.NewFromString(defaultBetS)
	st.TotalWagered, _ = decimal.NewFromString(wageredS)
	return &st, nil
}

func scanRound(row rowScanner) (*model.Round, error) {
	var r model.Round
	var color string
	if err := row.Scan(&r.ID, &r.ResultNumber, &color, &r.CreatedAt, &r.SettledAt); err != nil {
		return nil, err
	}
	r.ResultColor = model.Color(color)
	return &r, nil
}

func scanBet(row rowScanner) (*model.Bet, error) {
	var b model.Bet
	var amountS, color, beforeS, afterS string
	if err := row.Scan(&b.ID, &b.ParticipantID, &b.RoundID, &amountS, &color, &b.IsCorrect, &b.Settled,
		&beforeS, &afterS, &b.CreatedAt); err != nil {
		return nil, err
	}
	b.Color = model.Color(color)
	b.Amount, _ = decimal.NewFromString(amountS)
	b.BalanceBefore, _ = decimal.NewFromString(beforeS)
	b.BalanceAfter, _ = decimal.NewFromString(afterS)
	return &b, nil
}

func parseNullableDecimal(s *string) *decimal.Decimal {
	if s == nil {
		return nil
	}
	v, err := decimal.NewFromString(*s)
	if err != nil {
		return nil
	}
	return &v
}
