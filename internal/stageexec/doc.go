// Package stageexec runs stage work for one claimed Story.
//
// Command is the stage.Handler used in production: it execs the program
// configured under [stages."<name>"], writes the Job as JSON on stdin, and
// reads a stage.Result back from stdout. Run wraps any handler with the
// bookkeeping around a single job: loading its inputs, logging, metrics,
// persisting the result through lifecycle.Finish, and handing the claim back
// when the handler fails.
package stageexec
