// Package resq provides a Redis-backed job queue and the worker process
// that drains it.
//
// Jobs are stored in the Resque key layout, so queues, counters and
// failure records can be shared with other Resque-compatible tools.
// Workers are single-job OS processes controlled with signals; the
// supervisor package spawns and manages pools of them.
//
// Quick start:
//
//	// Producer: enqueue jobs
//	rc, _ := resq.NewRedisClient(resq.WithRedisAddr("localhost:6379"))
//	q, _ := resq.NewQueue(rc)
//	q.Enqueue(ctx, "mail", "email.send", resq.Payload{"to": "user@example.com"})
//
//	// Consumer: process jobs
//	reg := resq.NewRegistry()
//	reg.HandleFunc("email.send", sendEmail)
//	w, _ := resq.NewWorker(rc, reg, resq.WithQueues("mail"))
//	w.Work(ctx)
package resq
