package main

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/H4cking2theGate/remote-method-guesser/internal/netx"
	"github.com/H4cking2theGate/remote-method-guesser/pkg/guess"
	"github.com/H4cking2theGate/remote-method-guesser/pkg/operations"
	"github.com/H4cking2theGate/remote-method-guesser/pkg/rmi"
	"github.com/H4cking2theGate/remote-method-guesser/pkg/scan"
	"github.com/H4cking2theGate/remote-method-guesser/pkg/ssrf"
)

var opts struct {
	boundName string
	objID     string
	component string
	signature string
	argString string
	payload   string

	ssl          bool
	ssrfMode     bool
	ssrfResponse string
	style        string
	doubleEncode bool
	noHandshake  bool
	relayURL     string

	threads      int
	wordlistFile string
	duplicates   bool
	ports        string

	connectTimeout time.Duration
	readTimeout    time.Duration
	dnsTimeout     time.Duration

	noColor bool
	jsonOut bool
	verbose bool
}

var rootCmd = &cobra.Command{
	Use:   "rmg <host> <port> [operation] [args...]",
	Short: "Java RMI endpoint auditor",
	Long: "rmg talks the RMI wire protocol directly: it enumerates registries,\n" +
		"guesses remote methods, probes for known weaknesses and renders calls\n" +
		"for SSRF delivery. Operations: " + operations.OperationList() + ".",
	Args:          cobra.MinimumNArgs(2),
	SilenceUsage:  true,
	SilenceErrors: false,
	RunE:          run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&opts.boundName, "bound-name", "", "target a registry bound name")
	f.StringVar(&opts.objID, "objid", "", "target an object identifier (hex or well-known number)")
	f.StringVar(&opts.component, "component", "", "target a well-known component (reg, dgc, act)")
	f.StringVar(&opts.signature, "signature", "", "method signature or fixed-table method name")
	f.StringVar(&opts.argString, "args", "", "hex-encoded serialized call arguments")
	f.StringVar(&opts.payload, "payload", "", "hex-encoded serialized payload (bind, rebind, listen)")

	f.BoolVar(&opts.ssl, "ssl", false, "wrap connections in TLS")
	f.BoolVar(&opts.ssrfMode, "ssrf", false, "render the call for relay delivery instead of sending it")
	f.StringVar(&opts.ssrfResponse, "ssrf-response", "", "decode a relay-captured response instead of doing I/O")
	f.StringVar(&opts.style, "style", "", "relay framing: plain or gopher")
	f.BoolVar(&opts.doubleEncode, "double-encode", false, "percent-encode the rendered stream twice")
	f.BoolVar(&opts.noHandshake, "no-handshake", false, "omit the single-op handshake prefix")
	f.StringVar(&opts.relayURL, "relay-url", "", "fingerprint the HTTP relay at this URL first")

	f.IntVar(&opts.threads, "threads", 5, "worker pool size for scan and guess")
	f.StringVar(&opts.wordlistFile, "wordlist-file", "", "candidate signature wordlist, one per line")
	f.BoolVar(&opts.duplicates, "duplicates", false, "probe hash-colliding wordlist entries individually")
	f.StringVar(&opts.ports, "ports", "", "scan ports, e.g. 1090-1099,9010")

	f.DurationVar(&opts.connectTimeout, "connect-timeout", rmi.DefaultConnectTimeout, "per-connection dial timeout")
	f.DurationVar(&opts.readTimeout, "read-timeout", rmi.DefaultReadTimeout, "per-connection read timeout")
	f.DurationVar(&opts.dnsTimeout, "dns-timeout", 3*time.Second, "resolver timeout for scan targets")

	f.BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	f.BoolVar(&opts.jsonOut, "json", false, "print the report as JSON")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
}

// scan wants aggressive timeouts; these apply unless the operator asked for
// specific ones.
const (
	scanConnectTimeout = 1 * time.Second
	scanReadTimeout    = 3 * time.Second
)

func run(cmd *cobra.Command, args []string) error {
	log := newLogger()

	host := args[0]
	port, err := strconv.Atoi(args[1])
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("port %q is not a valid port number", args[1])
	}

	opName := "enum"
	var opArgs []string
	if len(args) > 2 {
		opName = args[2]
		opArgs = args[3:]
	}
	op, err := operations.ParseOperation(opName)
	if err != nil {
		return err
	}
	if len(opArgs) < operations.MinArgs(op) {
		return fmt.Errorf("operation %s: %s (needs %d positional argument(s))",
			op, operations.Describe(op), operations.MinArgs(op))
	}

	params, err := buildParams(cmd, op, host, port, opArgs, log)
	if err != nil {
		return err
	}

	if opts.relayURL != "" {
		info, err := ssrf.FingerprintRelay(opts.relayURL, opts.connectTimeout+opts.readTimeout)
		if err != nil {
			log.WithError(err).Warn("relay fingerprinting failed")
		} else {
			printRelay(cmd.OutOrStdout(), info)
		}
	}

	report, err := operations.Dispatch(cmd.Context(), op, params)
	if err != nil {
		return err
	}
	return printReport(cmd.OutOrStdout(), report, opts.jsonOut, useColor())
}

func buildParams(cmd *cobra.Command, op operations.Operation, host string, port int, opArgs []string, log *logrus.Logger) (*operations.Params, error) {
	p := &operations.Params{
		Endpoint:         rmi.Endpoint{Host: host, Port: port},
		Signature:        opts.signature,
		ArgString:        opts.argString,
		PayloadSpec:      opts.payload,
		Threads:          opts.threads,
		ReportDuplicates: opts.duplicates,
		SSRF:             opts.ssrfMode,
		CapturedResponse: opts.ssrfResponse,
		Log:              log,
		Options: rmi.Options{
			ConnectTimeout: opts.connectTimeout,
			ReadTimeout:    opts.readTimeout,
			TLS:            opts.ssl,
		},
	}

	if opts.boundName != "" {
		p.Target.BoundName = opts.boundName
	}
	if opts.objID != "" {
		id, err := rmi.ParseObjID(opts.objID)
		if err != nil {
			return nil, err
		}
		p.Target.ObjID = &id
	}
	if opts.component != "" {
		c, err := rmi.ParseComponent(opts.component)
		if err != nil {
			return nil, err
		}
		p.Target.Component = &c
	}

	style, err := ssrf.ParseStyle(opts.style)
	if err != nil {
		return nil, err
	}
	if op == operations.OpGopher && !cmd.Flags().Changed("style") {
		style = ssrf.StyleGopher
	}
	p.Style = style
	p.Tunnel = ssrf.Options{
		Host:         host,
		Port:         port,
		DoubleEncode: opts.doubleEncode,
		NoHandshake:  opts.noHandshake,
	}

	switch op {
	case operations.OpBind, operations.OpRebind, operations.OpUnbind, operations.OpLookup:
		p.Name = opArgs[0]
	case operations.OpGuess:
		if opts.wordlistFile != "" {
			candidates, err := guess.LoadWordlist(opts.wordlistFile)
			if err != nil {
				return nil, err
			}
			p.Candidates = candidates
		}
	case operations.OpScan:
		actions, err := scan.ParseActions(opArgs)
		if err != nil {
			return nil, err
		}
		p.Actions = actions
		if opts.ports != "" {
			ports, err := scan.ParsePorts([]string{opts.ports})
			if err != nil {
				return nil, err
			}
			p.Ports = ports
		} else if port != 0 {
			p.Ports = []int{port}
		}
		if !cmd.Flags().Changed("connect-timeout") {
			p.Options.ConnectTimeout = scanConnectTimeout
		}
		if !cmd.Flags().Changed("read-timeout") {
			p.Options.ReadTimeout = scanReadTimeout
		}
		// resolve once up front so per-port deadlines measure the endpoint
		resolver := netx.NewResolver(opts.dnsTimeout)
		ips, err := resolver.Resolve(cmd.Context(), host)
		if err != nil {
			return nil, err
		}
		if resolved := ips[0].String(); resolved != host {
			log.WithFields(logrus.Fields{"host": host, "addr": resolved}).Info("resolved scan target")
			p.Endpoint.Host = resolved
		}
	case operations.OpListen:
		p.ListenAddr = net.JoinHostPort(host, strconv.Itoa(port))
	}
	return p, nil
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		DisableColors:   opts.noColor,
		FullTimestamp:   true,
		TimestampFormat: time.TimeOnly,
	})
	if opts.verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}
	return log
}
