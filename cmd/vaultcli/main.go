package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/himawari-dl/secret-vault/common"
	"github.com/himawari-dl/secret-vault/interfaces"
	"github.com/himawari-dl/secret-vault/vault"
	"github.com/urfave/cli/v2"
)

var (
	baseDirFlag = &cli.StringFlag{
		Name:  "base-dir",
		Value: "",
		Usage: "vault base directory (default: <user config dir>/secret-vault)",
	}
	escrowURLFlag = &cli.StringFlag{
		Name:  "escrow-url",
		Value: "http://127.0.0.1:8080",
		Usage: "base URL of the key escrow service",
	}
	storeKeyLocallyFlag = &cli.BoolFlag{
		Name:  "store-key-locally",
		Value: false,
		Usage: "keep the vault key on disk instead of escrowing it",
	}
	keepCorruptFlag = &cli.BoolFlag{
		Name:  "keep-corrupt",
		Value: false,
		Usage: "quarantine corrupt secret files instead of deleting them",
	}
	kindFlag = &cli.StringFlag{
		Name:     "kind",
		Required: true,
		Usage:    "secret kind: site-cookie-jar, service-api-key, oauth-refresh-token or credential-pair",
	}
	siteFlag = &cli.StringFlag{
		Name:  "site",
		Usage: "site qualifier, required for site-cookie-jar",
	}
	payloadFileFlag = &cli.StringFlag{
		Name:  "payload-file",
		Value: "-",
		Usage: "file holding the secret payload, '-' for stdin",
	}
	secretsFlag = &cli.StringSliceFlag{
		Name:  "secret",
		Usage: "secret spec 'kind[:site]=payload-file' (save) or 'kind[:site]' (load), repeatable",
	}
	logJSONFlag = &cli.BoolFlag{
		Name:  "log-json",
		Value: false,
		Usage: "log in JSON format",
	}
	logDebugFlag = &cli.BoolFlag{
		Name:  "log-debug",
		Value: false,
		Usage: "log debug messages",
	}
)

func main() {
	app := &cli.App{
		Name:  "vaultcli",
		Usage: "Save and load encrypted secrets backed by the key escrow service",
		Flags: []cli.Flag{
			baseDirFlag,
			escrowURLFlag,
			keepCorruptFlag,
			logJSONFlag,
			logDebugFlag,
		},
		Commands: []*cli.Command{
			{
				Name:   "save",
				Usage:  "Encrypt and save one secret",
				Flags:  []cli.Flag{kindFlag, siteFlag, payloadFileFlag, storeKeyLocallyFlag},
				Action: runSave,
			},
			{
				Name:   "load",
				Usage:  "Load and decrypt one secret to stdout",
				Flags:  []cli.Flag{kindFlag, siteFlag},
				Action: runLoad,
			},
			{
				Name:   "save-batch",
				Usage:  "Encrypt and save multiple secrets concurrently",
				Flags:  []cli.Flag{secretsFlag, storeKeyLocallyFlag},
				Action: runSaveBatch,
			},
			{
				Name:   "load-batch",
				Usage:  "Load and decrypt multiple secrets concurrently",
				Flags:  []cli.Flag{secretsFlag},
				Action: runLoadBatch,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setupManager(cCtx *cli.Context) (*vault.Manager, error) {
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cCtx.Bool("log-debug"),
		JSON:    cCtx.Bool("log-json"),
		Service: "vaultcli",
		Version: common.Version,
	})
	logger = logger.With("uid", uuid.Must(uuid.NewRandom()).String())

	baseDir := cCtx.String("base-dir")
	if baseDir == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("could not determine config directory: %w", err)
		}
		baseDir = filepath.Join(configDir, "secret-vault")
	}

	vc, err := vault.NewVaultContext(baseDir, cCtx.String("escrow-url"), logger, vault.Options{
		KeepCorrupt: cCtx.Bool("keep-corrupt"),
	})
	if err != nil {
		return nil, err
	}

	return vault.NewManager(vc), nil
}

func recordFor(kindSlug, site string) (vault.SecretRecord, error) {
	kind, err := interfaces.ParseSecretKind(kindSlug)
	if err != nil {
		return vault.SecretRecord{}, err
	}
	if kind == interfaces.SiteCookieJar && site == "" {
		return vault.SecretRecord{}, errors.New("site-cookie-jar requires a site")
	}
	return vault.SecretRecord{Kind: kind, Site: site}, nil
}

// parseSecretSpec parses 'kind[:site]' with an optional '=payload-file'
// suffix, as used by the batch commands.
func parseSecretSpec(spec string, wantPayload bool) (vault.SecretRecord, error) {
	name := spec
	payloadFile := ""

	if idx := strings.IndexByte(spec, '='); idx >= 0 {
		name, payloadFile = spec[:idx], spec[idx+1:]
	}
	if wantPayload && payloadFile == "" {
		return vault.SecretRecord{}, fmt.Errorf("secret spec %q is missing '=payload-file'", spec)
	}
	if !wantPayload && payloadFile != "" {
		return vault.SecretRecord{}, fmt.Errorf("secret spec %q must not name a payload file", spec)
	}

	kindSlug, site := name, ""
	if idx := strings.IndexByte(name, ':'); idx >= 0 {
		kindSlug, site = name[:idx], name[idx+1:]
	}

	record, err := recordFor(kindSlug, site)
	if err != nil {
		return vault.SecretRecord{}, err
	}

	if wantPayload {
		record.Payload, err = readPayload(payloadFile)
		if err != nil {
			return vault.SecretRecord{}, err
		}
	}
	return record, nil
}

func readPayload(path string) ([]byte, error) {
	var data []byte
	var err error

	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("could not read payload: %w", err)
	}

	// Editors and pipelines add a trailing newline that is not part of the
	// secret.
	return bytes.TrimRight(data, "\r\n"), nil
}

func runSave(cCtx *cli.Context) error {
	m, err := setupManager(cCtx)
	if err != nil {
		return err
	}

	record, err := recordFor(cCtx.String("kind"), cCtx.String("site"))
	if err != nil {
		return err
	}
	record.Payload, err = readPayload(cCtx.String("payload-file"))
	if err != nil {
		return err
	}

	if !m.SaveSecret(cCtx.Context, record, cCtx.Bool("store-key-locally")) {
		return fmt.Errorf("failed to save %s", record.Name())
	}
	return nil
}

func runLoad(cCtx *cli.Context) error {
	m, err := setupManager(cCtx)
	if err != nil {
		return err
	}

	record, err := recordFor(cCtx.String("kind"), cCtx.String("site"))
	if err != nil {
		return err
	}

	result := m.LoadSecret(cCtx.Context, record)
	if result.Err != nil {
		return result.Err
	}
	if result.Absent {
		return fmt.Errorf("no secret stored for %s", record.Name())
	}

	_, err = os.Stdout.Write(append(result.Payload, '\n'))
	return err
}

func runSaveBatch(cCtx *cli.Context) error {
	m, err := setupManager(cCtx)
	if err != nil {
		return err
	}

	specs := cCtx.StringSlice("secret")
	if len(specs) == 0 {
		return errors.New("at least one --secret is required")
	}

	records := make([]vault.SecretRecord, 0, len(specs))
	for _, spec := range specs {
		record, err := parseSecretSpec(spec, true)
		if err != nil {
			return err
		}
		records = append(records, record)
	}

	saved, err := m.SaveAll(cCtx.Context, records, cCtx.Bool("store-key-locally"))
	for name, ok := range saved {
		fmt.Printf("%s: saved=%v\n", name, ok)
	}
	return err
}

func runLoadBatch(cCtx *cli.Context) error {
	m, err := setupManager(cCtx)
	if err != nil {
		return err
	}

	specs := cCtx.StringSlice("secret")
	if len(specs) == 0 {
		return errors.New("at least one --secret is required")
	}

	records := make([]vault.SecretRecord, 0, len(specs))
	for _, spec := range specs {
		record, err := parseSecretSpec(spec, false)
		if err != nil {
			return err
		}
		records = append(records, record)
	}

	loaded, err := m.LoadAll(cCtx.Context, records)
	for name, result := range loaded {
		switch {
		case result.Err != nil:
			fmt.Printf("%s: error: %v\n", name, result.Err)
		case result.Absent:
			fmt.Printf("%s: absent\n", name)
		default:
			fmt.Printf("%s: %s\n", name, result.Payload)
		}
	}
	return err
}
