// Package resubmit повторно публикует strategy.requested.
//
// Стратегия, для которой брокер не принял strategy.requested, остаётся
// в pending без записи аудита strategy.requested. Sweeper по расписанию
// находит такие стратегии и публикует запрос снова.
//
// Структура:
//   - sweeper.go — Tick, расписание и лидерство
//   - cron.go    — парсинг cron-выражений
//
// Использование:
//
//	sw := resubmit.New(resubmit.Config{
//	    Store:     store,
//	    Requester: service,
//	    Lock:      repo.NewAdvisoryLock(pool, repo.ResubmitLockKey), // опционально
//	    After:     10 * time.Minute,
//	    Rate:      10,
//	    Logger:    logger,
//	})
//	if err := sw.Start(ctx, "*/5 * * * *"); err != nil { ... }
//	defer sw.Stop()
//
// При нескольких экземплярах сервиса Tick выполняет только держатель Lock.
package resubmit
