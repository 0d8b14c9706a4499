// Command utmremote is a flag-driven front end over package rpc: list
// a host's virtual machines, or start/stop/pause/resume one and print
// its SPICE connection URL.
package main

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/atotto/clipboard"
	"github.com/fatih/color"
	logging "github.com/op/go-logging"
	uuid "github.com/satori/go.uuid"
	"github.com/urfave/cli"

	"github.com/zeldin/goutmremote/config"
	"github.com/zeldin/goutmremote/link"
	"github.com/zeldin/goutmremote/rpc"
	"github.com/zeldin/goutmremote/trust"
)

var log = logging.MustGetLogger("utmremote")

var stderrFormat = logging.MustStringFormatter(
	`%{color}utmremote ▶ %{message}%{color:reset}`,
)

func setupLogging(debug bool) {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	logging.SetFormatter(stderrFormat)
	leveled := logging.AddModuleLevel(backend)
	level := logging.NOTICE
	switch os.Getenv("UTMREMOTE_LOG_LEVEL") {
	case "CRITICAL":
		level = logging.CRITICAL
	case "ERROR":
		level = logging.ERROR
	case "WARNING":
		level = logging.WARNING
	case "NOTICE":
		level = logging.NOTICE
	case "INFO":
		level = logging.INFO
	case "DEBUG":
		level = logging.DEBUG
	}
	if debug {
		level = logging.DEBUG
	}
	leveled.SetLevel(level, "")
	logging.SetBackend(leveled)
}

func main() {
	app := cli.NewApp()
	app.Name = "utmremote"
	app.Usage = "control a UTM host's virtual machines over the network"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "cert, c", Usage: "client certificate directory (defaults to the XDG config dir)"},
		cli.StringFlag{Name: "server, s", Usage: "host to connect to", Value: "localhost"},
		cli.IntFlag{Name: "port, p", Usage: "port to connect to", Value: 21589},
		cli.StringFlag{Name: "password, P", Usage: "handshake password"},
		cli.StringFlag{Name: "fingerprint, f", Usage: "expected connection fingerprint (hex)"},
		cli.BoolFlag{Name: "generate, g", Usage: "generate a client certificate if one doesn't exist and exit"},
		cli.StringFlag{Name: "start, S", Usage: "start the named or id'd VM and print its spice:// URL"},
		cli.StringFlag{Name: "stop, T", Usage: "stop the named or id'd VM"},
		cli.StringFlag{Name: "restart", Usage: "restart the named or id'd VM"},
		cli.StringFlag{Name: "pause", Usage: "pause the named or id'd VM"},
		cli.StringFlag{Name: "resume", Usage: "resume the named or id'd VM"},
		cli.StringFlag{Name: "spice-cert, C", Usage: "write the started VM's SPICE certificate to this path"},
		cli.BoolFlag{Name: "debug, d", Usage: "enable debug logging"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %s", err))
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	setupLogging(c.Bool("debug"))

	if c.Bool("generate") {
		return generateCertificate(c)
	}

	session, closeSession, err := connect(c)
	if err != nil {
		return err
	}
	defer closeSession()

	ctx := context.Background()

	switch {
	case c.String("start") != "":
		return startVM(ctx, session, c)
	case c.String("stop") != "":
		return stopVM(ctx, session, c.String("stop"))
	case c.String("restart") != "":
		return restartVM(ctx, session, c.String("restart"))
	case c.String("pause") != "":
		return pauseVM(ctx, session, c.String("pause"))
	case c.String("resume") != "":
		return resumeVM(ctx, session, c.String("resume"))
	default:
		return listVMs(ctx, session)
	}
}

func generateCertificate(c *cli.Context) error {
	store, err := openStore(c)
	if err != nil {
		return err
	}
	if _, err := store.LoadClientCertificate(); err == nil {
		fmt.Println(color.GreenString("a client certificate already exists in %s", store.Dir))
		return nil
	}
	if _, err := store.GenerateClientCertificate(); err != nil {
		return err
	}
	fmt.Println(color.GreenString("generated a new client certificate in %s", store.Dir))
	return nil
}

func openStore(c *cli.Context) (config.Store, error) {
	if dir := c.String("cert"); dir != "" {
		return config.Store{Dir: dir}, nil
	}
	return config.OpenStore()
}

func connect(c *cli.Context) (*rpc.Session, func(), error) {
	store, err := openStore(c)
	if err != nil {
		return nil, nil, err
	}
	clientCert, err := store.EnsureClientCertificate()
	if err != nil {
		return nil, nil, err
	}

	host := c.String("server")
	port := c.Int("port")
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	rawConn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, nil, fmt.Errorf("utmremote: dialing %s: %w", addr, err)
	}

	tlsConn := tls.Client(rawConn, trust.ClientConfig(clientCert))
	if err := tlsConn.Handshake(); err != nil {
		rawConn.Close()
		return nil, nil, fmt.Errorf("utmremote: TLS handshake with %s: %w", addr, err)
	}

	fp, err := trust.FingerprintFromConnState(tlsConn.ConnectionState(), clientCert)
	if err != nil {
		tlsConn.Close()
		return nil, nil, err
	}

	trustStore, err := store.LoadTrustStore()
	if err != nil {
		tlsConn.Close()
		return nil, nil, err
	}
	key := config.ServerKey{Name: host, Address: host, Port: port}

	expected, ok := trustStore.Lookup(key)
	if !ok {
		if hexFp := c.String("fingerprint"); hexFp != "" {
			raw, decodeErr := hex.DecodeString(hexFp)
			if decodeErr != nil || len(raw) != 32 {
				tlsConn.Close()
				return nil, nil, fmt.Errorf("utmremote: --fingerprint must be 64 hex characters")
			}
			var arr [32]byte
			copy(arr[:], raw)
			expected = &arr
		} else {
			conn := fp.Connection()
			tlsConn.Close()
			return nil, nil, fmt.Errorf(
				"utmremote: no trusted fingerprint for %s; first connection must pass --fingerprint %s (code: %s)",
				host, hex.EncodeToString(conn[:]), fp.ConfirmationCode())
		}
	}

	if err := trust.Accept(fp, expected); err != nil {
		tlsConn.Close()
		return nil, nil, err
	}
	if err := trustStore.Trust(key, fp.Connection()); err != nil {
		log.Warning("utmremote: failed to persist trusted fingerprint:", err.Error())
	}

	session := rpc.NewSession(tlsConn, rpc.Observer{
		OnVirtualMachineDidTransition: func(id uuid.UUID, state rpc.VMState, isTakeoverAllowed bool) {
			log.Debugf("utmremote: %s transitioned to %s", id, state)
		},
		OnVirtualMachineDidError: func(id uuid.UUID, errorMessage string) {
			log.Error("utmremote:", id.String(), errorMessage)
		},
	})
	session.Link().SetState(link.StateVerified)
	session.Link().Start()

	if err := session.Handshake(context.Background(), c.String("password")); err != nil {
		session.Close()
		return nil, nil, err
	}

	return session, func() { session.Close() }, nil
}

func listVMs(ctx context.Context, session *rpc.Session) error {
	ids, err := session.ListVirtualMachines(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	infos, err := session.GetVirtualMachineInformation(ctx, ids)
	if err != nil {
		return err
	}
	for _, info := range infos {
		fmt.Printf("%s %s %s\n", info.ID, info.Name, info.State)
	}
	return nil
}

func startVM(ctx context.Context, session *rpc.Session, c *cli.Context) error {
	id, err := resolveVM(ctx, session, c.String("start"))
	if err != nil {
		return err
	}
	info, err := session.StartVirtualMachine(ctx, id, 0)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("spice://%s:%d?tls-port=%d&password=%s",
		info.SpiceHostExternal, info.SpicePortExternal, info.SpicePortExternal, info.SpicePassword)
	fmt.Println(color.CyanString(url))

	if err := clipboard.WriteAll(url); err != nil {
		log.Debug("utmremote: clipboard copy failed:", err.Error())
	}

	if path := c.String("spice-cert"); path != "" {
		spiceAddr := net.JoinHostPort(info.SpiceHostExternal, strconv.FormatInt(info.SpicePortExternal, 10))
		conn, err := tls.Dial("tcp", spiceAddr, &tls.Config{InsecureSkipVerify: true})
		if err != nil {
			return fmt.Errorf("utmremote: dialing spice server %s: %w", spiceAddr, err)
		}
		cert, err := trust.PeerCertificate(conn.ConnectionState())
		conn.Close()
		if err != nil {
			return err
		}
		if !trust.SpiceKeyMatches(cert, info.SpicePublicKey) {
			return trust.ErrSpiceKeyMismatch
		}
		block := &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}
		if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
			return fmt.Errorf("utmremote: writing spice certificate: %w", err)
		}
	}
	return nil
}

func stopVM(ctx context.Context, session *rpc.Session, ref string) error {
	id, err := resolveVM(ctx, session, ref)
	if err != nil {
		return err
	}
	return session.StopVirtualMachine(ctx, id, rpc.StopRequest)
}

func restartVM(ctx context.Context, session *rpc.Session, ref string) error {
	id, err := resolveVM(ctx, session, ref)
	if err != nil {
		return err
	}
	return session.RestartVirtualMachine(ctx, id)
}

func pauseVM(ctx context.Context, session *rpc.Session, ref string) error {
	id, err := resolveVM(ctx, session, ref)
	if err != nil {
		return err
	}
	return session.PauseVirtualMachine(ctx, id)
}

func resumeVM(ctx context.Context, session *rpc.Session, ref string) error {
	id, err := resolveVM(ctx, session, ref)
	if err != nil {
		return err
	}
	return session.ResumeVirtualMachine(ctx, id)
}
