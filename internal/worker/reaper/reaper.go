// Package reaper は期限切れの視聴セッションを定期的に回収するジョブを提供する。
// 回収しなくても期限切れセッションは完了できないが、メモリを解放するために実行する。
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule はジョブの既定の実行間隔。
const DefaultSchedule = "@every 1m"

// Sweeper は期限切れセッションの回収を抽象化するインターフェース。
// watch.Managerが実装する。
type Sweeper interface {
	SweepExpired() int
	LiveSessions() int
}

// Job は期限切れセッションの回収ジョブ。冪等で、対象がなくてもエラーにならない。
type Job struct {
	sweeper Sweeper
	logger  *slog.Logger
}

// NewJob は新しいJobを生成する。
func NewJob(sweeper Sweeper, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{sweeper: sweeper, logger: logger}
}

// Run は期限切れセッションを回収し、回収件数を返す。
func (j *Job) Run(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	start := time.Now()

	expired := j.sweeper.SweepExpired()

	level := slog.LevelDebug
	if expired > 0 {
		level = slog.LevelInfo
	}
	j.logger.Log(ctx, level, "期限切れ視聴セッションの回収が完了しました",
		slog.Int("expired_count", expired),
		slog.Int("live_sessions", j.sweeper.LiveSessions()),
		slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
	)
	return expired
}

// Scheduler はcron式に従ってJobを実行する。
// ジョブ内のpanicはcron.Recoverで回収し、プロセスを停止させない。
type Scheduler struct {
	cron     *cron.Cron
	schedule string
	logger   *slog.Logger
}

// NewScheduler はJobを登録したSchedulerを生成する。scheduleが不正な場合はエラーを返す。
func NewScheduler(job *Job, schedule string, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	if _, err := c.AddFunc(schedule, func() { job.Run(context.Background()) }); err != nil {
		return nil, fmt.Errorf("セッション回収ジョブのスケジュールが不正です %q: %w", schedule, err)
	}
	return &Scheduler{cron: c, schedule: schedule, logger: logger}, nil
}

// Start はスケジューラーを開始する。
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("セッション回収ジョブを開始しました", slog.String("schedule", s.schedule))
}

// Stop はスケジューラーを停止する。返されたコンテキストは実行中のジョブの終了時に完了する。
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
