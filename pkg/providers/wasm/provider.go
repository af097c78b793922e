package wasm

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/dataxchange/dxp/pkg/compiler"
	"github.com/dataxchange/dxp/pkg/engine"
	"github.com/dataxchange/dxp/pkg/logsink"
)

// Provider is an import provider implemented by a WASI module.
//
// The module is compiled once. Every import statement of an action runs a
// fresh instance whose stdin holds the statement's records:
//
//	{"type":"BEGIN","data":{"subject":"reading","fields":[...]}}
//	{"type":"RECORD","data":{"row":1,"fields":{...}}}
//	{"type":"END","data":{"records":1}}
//
// The module answers on stdout with EVENT lines, then DONE or ERROR. Lines
// that are not protocol messages are logged as info, stderr as warnings.
type Provider struct {
	manifest *Manifest
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	subjects compiler.Subjects
	environ  []string
}

// New compiles module for the provider described by m.
func New(ctx context.Context, m *Manifest, module []byte) (*Provider, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if err := m.VerifyChecksum(module); err != nil {
		return nil, err
	}

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(m.MemoryLimitPages).
		WithCloseOnContextDone(true)

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	compiled, err := runtime.CompileModule(ctx, module)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to compile WASM module %s: %w", m.ID, err)
	}

	return &Provider{
		manifest: m,
		runtime:  runtime,
		compiled: compiled,
		subjects: m.CompilerSubjects(),
		environ:  os.Environ(),
	}, nil
}

// ID returns the provider identifier.
func (p *Provider) ID() string {
	return p.manifest.ID
}

// Subjects returns the subjects declared by the manifest.
func (p *Provider) Subjects() compiler.Subjects {
	return p.subjects
}

// stream buffers the protocol input of one import statement.
type stream struct {
	buf     bytes.Buffer
	enc     *Encoder
	records int
}

// Import buffers the records of every import statement and hands each
// stream to its own module instance, in statement order.
func (p *Provider) Import(ctx context.Context, req *engine.ImportRequest) error {
	log := logsink.OrNop(req.Log)

	imports := req.Program.Imports()
	streams := make(map[*compiler.Import]*stream, len(imports))
	for _, imp := range imports {
		s := &stream{}
		s.enc = NewEncoder(&s.buf)
		begin := &BeginMessage{
			RunID:   req.RunID,
			Subject: strings.ToLower(imp.Subject),
			Fields:  imp.Vocabulary.Names(),
			Context: req.Context,
		}
		if req.Action != nil {
			begin.Action = req.Action.Name
		}
		if err := s.enc.Encode(MessageTypeBegin, begin); err != nil {
			return err
		}
		streams[imp] = s
	}

	err := req.Run(ctx, engine.RowHandlerFunc(func(ctx context.Context, imp *compiler.Import, rc *compiler.RowContext) error {
		s := streams[imp]
		s.records++
		return s.enc.Encode(MessageTypeRecord, &RecordMessage{Row: rc.Row.Number, Fields: rc.TargetRecord})
	}))
	if err != nil {
		return err
	}

	for _, imp := range imports {
		s := streams[imp]
		if err := s.enc.Encode(MessageTypeEnd, &EndMessage{Records: s.records}); err != nil {
			return err
		}
		if err := s.enc.Flush(); err != nil {
			return err
		}

		done, err := p.invoke(ctx, &s.buf, log)
		if err != nil {
			return fmt.Errorf("wasm provider %s: %s: %w", p.manifest.ID, imp.Subject, err)
		}
		log.Infof("%s: %d of %d %s records accepted", p.manifest.ID, done.Accepted, s.records, imp.Subject)
	}
	return nil
}

// invoke runs one module instance with stdin and interprets its output.
func (p *Provider) invoke(ctx context.Context, stdin io.Reader, log logsink.LogFunc) (*DoneMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, p.manifest.Timeout)
	defer cancel()

	cfg, err := moduleConfig(p.manifest, p.environ)
	if err != nil {
		return nil, err
	}

	var stdout, stderr bytes.Buffer
	cfg = cfg.WithStdin(stdin).WithStdout(&stdout).WithStderr(&stderr)

	mod, runErr := p.runtime.InstantiateModule(ctx, p.compiled, cfg)
	if mod != nil {
		mod.Close(ctx)
	}

	logStderr(&stderr, log)
	done, outErr := readOutput(&stdout, log)

	if runErr != nil {
		var exitErr *sys.ExitError
		if !errors.As(runErr, &exitErr) || exitErr.ExitCode() != 0 {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("module did not finish within %s: %w", p.manifest.Timeout, runErr)
			}
			if outErr != nil {
				return nil, outErr
			}
			return nil, fmt.Errorf("module failed: %w", runErr)
		}
	}
	if outErr != nil {
		return nil, outErr
	}
	return done, nil
}

// readOutput logs the module's messages and returns its DONE message.
func readOutput(r io.Reader, log logsink.LogFunc) (*DoneMessage, error) {
	dec := NewDecoder(r)
	var done *DoneMessage

	for {
		msg, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, ErrMalformed) {
			log.Infof("%s", dec.Line())
			continue
		}
		if err != nil {
			return nil, err
		}

		switch msg.Type {
		case MessageTypeEvent:
			var ev EventMessage
			if err := DecodeData(msg, &ev); err != nil {
				return nil, err
			}
			log(logsink.ParseSeverity(ev.Level), ev.Message)

		case MessageTypeError:
			var em ErrorMessage
			if err := DecodeData(msg, &em); err != nil {
				return nil, err
			}
			if em.Code != "" {
				return nil, fmt.Errorf("%s: %s", em.Code, em.Message)
			}
			return nil, errors.New(em.Message)

		case MessageTypeDone:
			done = &DoneMessage{}
			if err := DecodeData(msg, done); err != nil {
				return nil, err
			}
			if done.Message != "" {
				log.Infof("%s", done.Message)
			}

		default:
			log.Warnf("unexpected %s message from module", msg.Type)
		}
	}

	if done == nil {
		return nil, errors.New("module exited without a DONE message")
	}
	return done, nil
}

func logStderr(r io.Reader, log logsink.LogFunc) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			log.Warnf("%s", line)
		}
	}
}

// Close releases the compiled module and the runtime.
func (p *Provider) Close(ctx context.Context) error {
	if err := p.compiled.Close(ctx); err != nil {
		return fmt.Errorf("failed to close compiled module: %w", err)
	}
	if err := p.runtime.Close(ctx); err != nil {
		return fmt.Errorf("failed to close WASM runtime: %w", err)
	}
	return nil
}
