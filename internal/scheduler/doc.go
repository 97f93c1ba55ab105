// Package scheduler запускает workflows по расписанию.
//
// Scheduler читает on.schedule из каталога workflows, держит в памяти
// время следующего срабатывания каждого cron-выражения и создаёт runs
// с событием schedule.
//
// Структура:
//   - scheduler.go — основная логика Scheduler (Tick, fire, Run)
//   - cron.go      — парсинг cron-выражений и вычисление следующего времени
//   - leader.go    — выбор лидера через pg_try_advisory_lock
//
// Использование:
//
//	sched, err := scheduler.New(scheduler.Config{
//	    Catalog:   catalog,
//	    Runs:      runRepo,
//	    Publisher: publisher, // опционально
//	    Logger:    logger,
//	})
//
//	sched.Run(ctx, time.Second, scheduler.NewPGLeader(pool, scheduler.LeaderLockKey))
//
// Повторное срабатывание (рестарт, второй экземпляр) не создаёт
// второй run: ключ идемпотентности "{workflow}_{due_unix}" уникален в БД.
package scheduler
