package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/coinwatch/internal/model"
)

// PostgresLedgerRepo はPostgreSQLを使用した広告・視聴台帳リポジトリ。
type PostgresLedgerRepo struct {
	db *sql.DB
}

// NewPostgresLedgerRepo はPostgresLedgerRepoを生成する。
func NewPostgresLedgerRepo(db *sql.DB) *PostgresLedgerRepo {
	return &PostgresLedgerRepo{db: db}
}

// ListAds は永続化された全広告を作成順に返す。
func (r *PostgresLedgerRepo) ListAds(ctx context.Context) ([]*model.Ad, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, kind, target_url, status, reward_min, reward_max,
		        required_watch_seconds, created_at, updated_at
		 FROM ads
		 ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("広告一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var ads []*model.Ad
	for rows.Next() {
		ad := &model.Ad{}
		if err := rows.Scan(
			&ad.ID, &ad.Title, &ad.Kind, &ad.TargetURL, &ad.Status,
			&ad.RewardMin, &ad.RewardMax, &ad.RequiredWatchSeconds,
			&ad.CreatedAt, &ad.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("広告のスキャンに失敗しました: %w", err)
		}
		ads = append(ads, ad)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("広告一覧の読み出しに失敗しました: %w", err)
	}
	return ads, nil
}

// UpsertAds は広告定義を同一トランザクションでUPSERTする。
// created_atは初回作成時の値を維持する。
func (r *PostgresLedgerRepo) UpsertAds(ctx context.Context, ads []*model.Ad) error {
	if len(ads) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO ads (id, title, kind, target_url, status, reward_min, reward_max,
		                  required_watch_seconds, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		     title = EXCLUDED.title,
		     kind = EXCLUDED.kind,
		     target_url = EXCLUDED.target_url,
		     status = EXCLUDED.status,
		     reward_min = EXCLUDED.reward_min,
		     reward_max = EXCLUDED.reward_max,
		     required_watch_seconds = EXCLUDED.required_watch_seconds,
		     updated_at = EXCLUDED.updated_at`,
	)
	if err != nil {
		return fmt.Errorf("failed to prepare ad upsert: %w", err)
	}
	defer stmt.Close()

	for _, ad := range ads {
		if _, err := stmt.ExecContext(ctx,
			ad.ID, ad.Title, ad.Kind, ad.TargetURL, ad.Status,
			ad.RewardMin, ad.RewardMax, ad.RequiredWatchSeconds,
			ad.CreatedAt, ad.UpdatedAt,
		); err != nil {
			return fmt.Errorf("広告のUPSERTに失敗しました (id=%s): %w", ad.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const selectViewRecordColumns = `SELECT id, user_id, ad_id, reward_amount, reported_watch_seconds,
        completed, clicked, approval_status, created_at
 FROM view_records`

// ListViewRecords は全視聴記録を作成順に返す。
func (r *PostgresLedgerRepo) ListViewRecords(ctx context.Context) ([]*model.ViewRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectViewRecordColumns+` ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("視聴記録の取得に失敗しました: %w", err)
	}
	return scanViewRecords(rows)
}

// ListViewRecordsForUsers はuserIDsのいずれかに一致し、since以降に作成された記録を返す。
// (user_id, created_at)インデックスを使用する。
func (r *PostgresLedgerRepo) ListViewRecordsForUsers(ctx context.Context, userIDs []string, since time.Time) ([]*model.ViewRecord, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		selectViewRecordColumns+` WHERE user_id = ANY($1) AND created_at >= $2 ORDER BY created_at, id`,
		pq.Array(userIDs), since,
	)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの視聴記録の取得に失敗しました: %w", err)
	}
	return scanViewRecords(rows)
}

// AppendViewRecord は視聴記録を追記する。
// 同一IDが既に存在する場合はON CONFLICT DO NOTHINGで何もしない。
func (r *PostgresLedgerRepo) AppendViewRecord(ctx context.Context, record *model.ViewRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO view_records (id, user_id, ad_id, reward_amount, reported_watch_seconds,
		                           completed, clicked, approval_status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		record.ID, record.UserID, record.AdID, record.RewardAmount, record.ReportedWatchSeconds,
		record.Completed, record.Clicked, record.ApprovalStatus, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("視聴記録の追記に失敗しました: %w", err)
	}
	return nil
}

func scanViewRecords(rows *sql.Rows) ([]*model.ViewRecord, error) {
	defer rows.Close()

	var records []*model.ViewRecord
	for rows.Next() {
		rec := &model.ViewRecord{}
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.AdID, &rec.RewardAmount, &rec.ReportedWatchSeconds,
			&rec.Completed, &rec.Clicked, &rec.ApprovalStatus, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("視聴記録のスキャンに失敗しました: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("視聴記録の読み出しに失敗しました: %w", err)
	}
	return records, nil
}

// compile-time interface check
var (
	_ LedgerRepository = (*PostgresLedgerRepo)(nil)
	_ UserRecordLister = (*PostgresLedgerRepo)(nil)
)
