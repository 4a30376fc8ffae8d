// Command picosnitch is the entry wrapper spec §2/§5 describes: it acquires
// a single-instance lock, starts the Supervisor on a goroutine (which in
// turn spawns the Producer), drops privileges, performs the initial
// process/connection snapshot, then runs the Correlator's drain loop until
// a termination signal arrives.
//
// The same binary also serves as the Producer, dispatched through the
// hidden "__producer" subcommand so a single re-exec (os.Executable() +
// exec.Command(self, subcommand)) is enough to start it — the self re-exec
// idiom this module's subprocess control is grounded on. The
// "__supervisor" subcommand refuses to run; the Supervisor only runs
// in-process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/PAWANGTIREXXX/picosnitch/internal/bootconfig"
	"github.com/PAWANGTIREXXX/picosnitch/internal/correlator"
	"github.com/PAWANGTIREXXX/picosnitch/internal/ipc"
	"github.com/PAWANGTIREXXX/picosnitch/internal/ledger"
	"github.com/PAWANGTIREXXX/picosnitch/internal/notify"
	"github.com/PAWANGTIREXXX/picosnitch/internal/producer"
	"github.com/PAWANGTIREXXX/picosnitch/internal/supervisor"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "__supervisor":
			os.Exit(runSupervisorSubcommand())
		case "__producer":
			os.Exit(runProducerSubcommand())
		}
	}
	os.Exit(runMain())
}

func runMain() int {
	configPath := flag.String("config", "", "path to the picosnitch bootstrap YAML config (optional)")
	flag.Parse()

	cfg, err := bootconfig.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "picosnitch: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	home, err := invokingHome()
	if err != nil {
		logger.Error("resolve home directory", slog.String("err", err.Error()))
		return 1
	}

	lockPath := cfg.LockPath
	if lockPath == "" {
		lockPath = home + "/.picosnitch_lock"
	}
	fl := flock.New(lockPath)
	lockCtx, lockCancel := context.WithTimeout(context.Background(), time.Second)
	defer lockCancel()
	locked, err := fl.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil || !locked {
		fmt.Fprintln(os.Stderr, "picosnitch: another instance is already running")
		return 1
	}
	defer fl.Unlock()

	ledgerPath := cfg.LedgerPath
	if ledgerPath == "" {
		ledgerPath = ledger.Path(home)
	}
	led, err := ledger.Load(ledgerPath)
	if err != nil {
		logger.Error("load ledger", slog.String("err", err.Error()))
		return 1
	}

	eventR, eventW, err := os.Pipe()
	if err != nil {
		logger.Error("open event pipe", slog.String("err", err.Error()))
		return 1
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		logger.Error("open error pipe", slog.String("err", err.Error()))
		return 1
	}

	sp := supervisor.ExecSpawner{
		Subcommand: "__producer",
		ExtraFiles: []*os.File{eventW, errW},
	}
	sup := supervisor.New(sp, logger,
		supervisor.WithMemoryCapBytes(uint64(cfg.MemoryCapMB)*1024*1024),
		supervisor.WithRestartCooldown(cfg.RestartCooldown),
	)

	termCh := make(chan struct{})
	supervisorDone := make(chan error, 1)
	go func() { supervisorDone <- sup.Run(termCh, time.Now) }()

	// The first Producer spawn must happen-before the privilege drop (spec
	// §2/§5: "launches the Supervisor (which launches the Producer), drops
	// privileges in the main process"), or a re-exec racing the drop can
	// inherit a non-root euid and fail its own root check.
	select {
	case <-sup.Started():
	case err := <-supervisorDone:
		logger.Error("supervisor failed to start producer", slog.String("err", err.Error()))
		return 1
	}

	if err := dropPrivileges(); err != nil {
		logger.Error("drop privileges", slog.String("err", err.Error()))
		close(termCh)
		return 1
	}

	notifier := notify.New(notify.NullToaster{}, os.Stderr)
	corr := correlator.New(correlator.NewNetResolver(), correlator.NewRateLimited(correlator.NoLookup{}), notifier)
	enum := correlator.NewHostEnumerator()

	pidTable := make(map[int32]correlator.Proc)
	now := time.Now().Format("Mon Jan  2 15:04:05 2006")
	if err := corr.InitialSnapshot(led, pidTable, enum, now); err != nil {
		logger.Error("initial snapshot", slog.String("err", err.Error()))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go drainErrors(ipc.NewErrorReader(errR), led, logger)

	persistState := &correlator.PersistState{}
	eventReader := ipc.NewEventReader(eventR)
	eventCh := make(chan ipc.Event, 256)
	go func() {
		for {
			ev, err := eventReader.Read()
			if err != nil {
				close(eventCh)
				return
			}
			eventCh <- ev
		}
	}()

	var pendingConns []ipc.Conn
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

loop:
	for {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", slog.String("signal", sig.String()))
			break loop
		case ev, ok := <-eventCh:
			if !ok {
				break loop
			}
			batch := []ipc.Event{ev}
			drain := true
			for drain {
				select {
				case ev2, ok := <-eventCh:
					if !ok {
						drain = false
						break
					}
					batch = append(batch, ev2)
				default:
					drain = false
				}
			}
			now := time.Now().Format("Mon Jan  2 15:04:05 2006")
			pendingConns = corr.DrainAndCorrelate(led, pidTable, enum, pendingConns, batch, now)
		case t := <-ticker.C:
			if persistState.ShouldPersist(led, t) {
				if err := persistState.Persist(ledgerPath, led, t); err != nil {
					logger.Error("persist ledger", slog.String("err", err.Error()))
				}
			}
		}
	}

	close(termCh)
	<-supervisorDone
	if err := persistState.Persist(ledgerPath, led, time.Now()); err != nil {
		logger.Error("final persist", slog.String("err", err.Error()))
	}
	logger.Info("picosnitch exited cleanly")
	return 0
}

func drainErrors(er *ipc.ErrorReader, led *ledger.Ledger, logger *slog.Logger) {
	for {
		line, err := er.Read()
		if err != nil {
			return
		}
		led.Errors = append(led.Errors, line)
		logger.Warn("producer error", slog.String("line", line))
	}
}

// runSupervisorSubcommand exists for a future topology where the Supervisor
// itself is a separate process rather than a goroutine of the main process;
// the current wiring runs the Supervisor in-process (see runMain), so this
// subcommand is a placeholder that refuses to run standalone.
func runSupervisorSubcommand() int {
	fmt.Fprintln(os.Stderr, "picosnitch: __supervisor is not meant to be invoked directly")
	return 1
}

func runProducerSubcommand() int {
	logger := newLogger("info")
	// fd 3 is the control pipe's read end (supervisor.ExecSpawner always
	// prepends it), fd 4/5 are the event/error pipe write ends it passed
	// via ExtraFiles.
	controlR := os.NewFile(3, "control-pipe")
	eventW := os.NewFile(4, "event-pipe")
	errW := os.NewFile(5, "error-pipe")
	if controlR == nil || eventW == nil || errW == nil {
		fmt.Fprintln(os.Stderr, "picosnitch: producer subcommand missing inherited pipes")
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		buf := make([]byte, 1)
		controlR.Read(buf) // a terminate token, or EOF once the parent exits
		cancel()
	}()

	objPath := os.Getenv("PICOSNITCH_BPF_OBJECT")
	if objPath == "" {
		objPath = "/usr/lib/picosnitch/process.bpf.o"
	}

	err := producer.Run(ctx, objPath, ipc.NewEventWriter(eventW), ipc.NewErrorWriter(errW), logger)
	if err != nil {
		logger.Error("producer exited", slog.String("err", err.Error()))
		return 1
	}
	return 0
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
