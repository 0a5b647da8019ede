// Package task runs long-lived workers on dedicated goroutines.
//
// A Task owns a single goroutine that repeatedly asks its Worker whether
// there is work, processes it, and sleeps for a worker-chosen duration:
//
//	t := task.New(worker, task.WithID("poller"))
//	t.Start()
//	defer t.Stop()
//
// Lifecycle:
//
//	CREATED --Start--> STARTED --Stop--> STOPPED --Start--> STARTED ...
//
// Start is idempotent while the task is started. Stop waits for the goroutine
// to exit, so it must not be called from the worker itself.
//
// Workers opt into lifecycle hooks by implementing BeforeStarter, Initializer,
// Cleaner or AfterStopper. BeforeStart and AfterStop run on the goroutine that
// calls Start or Stop; Initialize and Cleanup run on the task's goroutine.
//
// A failing Process call is reported through the error handler and the loop
// continues. A panic ends the loop: Cleanup still runs, the panic is reported
// as an ErrCodePanic error, and the task moves to STOPPED.
package task
