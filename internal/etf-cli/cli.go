// Package etfcli is the command line interface of etf: authority key
// management, sealing and opening bundles, and the slot server.
package etfcli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/urfave/cli/v2"

	"github.com/ideal-lab5/etf-cli/common"
	"github.com/ideal-lab5/etf-cli/common/chain"
	"github.com/ideal-lab5/etf-cli/common/log"
	"github.com/ideal-lab5/etf-cli/crypto"
	"github.com/ideal-lab5/etf-cli/internal/entropy"
	"github.com/ideal-lab5/etf-cli/internal/fs"
	"github.com/ideal-lab5/etf-cli/internal/slot"
	"github.com/ideal-lab5/etf-cli/key"
)

var SetVersionPrinter sync.Once

// ScheduleFileName is the schedule file kept next to the key folder.
const ScheduleFileName = "schedule.toml"

const defaultListen = "127.0.0.1:8080"

func banner(w io.Writer) {
	_, _ = fmt.Fprintln(w, common.Banner())
}

var folderFlag = &cli.StringFlag{
	Name:    "folder",
	Value:   key.DefaultBaseFolder(),
	Usage:   "Folder to keep the authority key material and schedule, with absolute path.",
	EnvVars: []string{"ETF_FOLDER"},
}

var verboseFlag = &cli.BoolFlag{
	Name:    "verbose",
	Usage:   "If set, verbosity is at the debug level",
	EnvVars: []string{"ETF_VERBOSE"},
}

var logLevelFlag = &cli.StringFlag{
	Name:    "log-level",
	Usage:   "Log level: debug, info, warn or error.",
	Value:   "error",
	EnvVars: []string{"ETF_LOG_LEVEL"},
}

var jsonFlag = &cli.BoolFlag{
	Name:    "json",
	Usage:   "Set the logs to be in JSON format.",
	EnvVars: []string{"ETF_LOG_JSON"},
}

var schemeFlag = &cli.StringFlag{
	Name:    "scheme",
	Usage:   "Indicates a set of values the authority will use: " + strings.Join(crypto.ListSchemes(), ", "),
	Value:   crypto.DefaultSchemeID,
	EnvVars: []string{"ETF_SCHEME"},
}

var sourceFlag = &cli.StringFlag{
	Name:    "source",
	Usage:   "Source flag allows the user to specify an external source of randomness, a file read in place of crypto/rand.",
	EnvVars: []string{"ETF_SOURCE"},
}

var genesisFlag = &cli.StringFlag{
	Name:    "genesis",
	Usage:   "Release time of round 1, as a unix timestamp or RFC 3339 date. Defaults to now.",
	EnvVars: []string{"ETF_GENESIS"},
}

var periodFlag = &cli.DurationFlag{
	Name:    "period",
	Usage:   "Time between two slot releases, a whole number of seconds.",
	Value:   6 * time.Second,
	EnvVars: []string{"ETF_PERIOD"},
}

var prefixFlag = &cli.StringFlag{
	Name:    "prefix",
	Usage:   "Prefix of the slot identities.",
	Value:   slot.DefaultPrefix,
	EnvVars: []string{"ETF_PREFIX"},
}

var forceFlag = &cli.BoolFlag{
	Name:  "force",
	Usage: "Overwrite existing key material.",
}

var roundsFlag = &cli.StringFlag{
	Name:    "rounds",
	Usage:   "Comma separated slot rounds to use as identities, e.g. 10,11,12.",
	EnvVars: []string{"ETF_ROUNDS"},
}

var idsFlag = &cli.StringFlag{
	Name:    "ids",
	Usage:   "Space delimited identities. Positional arguments are used when not set.",
	EnvVars: []string{"ETF_IDS"},
}

var thresholdFlag = &cli.IntFlag{
	Name:    "threshold",
	Aliases: []string{"t"},
	Usage:   "Number of identity keys needed to decrypt.",
	EnvVars: []string{"ETF_THRESHOLD"},
}

var messageFlag = &cli.StringFlag{
	Name:  "message",
	Usage: "Message to encrypt. Read from --in when not set.",
}

var inFlag = &cli.StringFlag{
	Name:  "in",
	Usage: "Input file.",
}

var outFlag = &cli.StringFlag{
	Name:  "out",
	Usage: "Output file. Standard output when not set.",
}

var dbFlag = &cli.StringFlag{
	Name:    "db",
	Usage:   "Folder of the local bundle store.",
	EnvVars: []string{"ETF_DB"},
}

var bundleIDFlag = &cli.StringFlag{
	Name:  "id",
	Usage: "Id of a bundle in the local bundle store.",
}

var publicFlag = &cli.StringFlag{
	Name:    "public",
	Usage:   "Seal to the master public key in this TOML file instead of the local authority.",
	EnvVars: []string{"ETF_PUBLIC"},
}

var urlFlag = &cli.StringFlag{
	Name:    "url",
	Usage:   "Root URL of a slot server.",
	EnvVars: []string{"ETF_URL"},
}

var infoHashFlag = &cli.StringFlag{
	Name:    "info-hash",
	Usage:   "Hex hash of the slot server info to trust.",
	EnvVars: []string{"ETF_INFO_HASH"},
}

var sealFlag = &cli.BoolFlag{
	Name:  "seal",
	Usage: "Leave the secrets of the bundle empty even when the local authority is used.",
}

var secretsFlag = &cli.StringFlag{
	Name:  "secrets",
	Usage: "JSON file with the slot-aligned secrets, as written by derive.",
}

var waitFlag = &cli.BoolFlag{
	Name:  "wait",
	Usage: "Wait for enough slots to be released before fetching their keys.",
}

var listenFlag = &cli.StringFlag{
	Name:    "listen",
	Usage:   "Address the slot server listens on.",
	Value:   defaultListen,
	EnvVars: []string{"ETF_LISTEN"},
}

var accessLogFlag = &cli.StringFlag{
	Name:    "access-log",
	Usage:   "File to write the slot server access log to.",
	EnvVars: []string{"ETF_ACCESS_LOG"},
}

var metricsFlag = &cli.StringFlag{
	Name:    "metrics",
	Usage:   "Launch a metrics server at the specified (host:)port.",
	EnvVars: []string{"ETF_METRICS"},
}

var bucketFlag = &cli.StringFlag{
	Name:    "bucket",
	Usage:   "Name of the AWS bucket to upload to.",
	EnvVars: []string{"ETF_BUCKET"},
}

var regionFlag = &cli.StringFlag{
	Name:    "region",
	Usage:   "Name of the AWS region to use.",
	Value:   "eu-west-1",
	EnvVars: []string{"ETF_REGION"},
}

var bucketPrefixFlag = &cli.StringFlag{
	Name:  "prefix",
	Usage: "Key prefix of published bundles.",
	Value: "bundles/",
}

var aclFlag = &cli.StringFlag{
	Name:  "acl",
	Usage: "Canned ACL of published bundles, e.g. public-read.",
}

var appCommands = []*cli.Command{
	{
		Name:  "keygen",
		Usage: "Generate the master key of a new authority and its release schedule.",
		Flags: toArray(folderFlag, schemeFlag, sourceFlag, genesisFlag, periodFlag, prefixFlag, forceFlag),
		Action: func(c *cli.Context) error {
			banner(c.App.ErrWriter)
			return keygenCmd(c, logger(c, "keygen"))
		},
	},
	{
		Name:  "show",
		Usage: "Local information retrieval about the authority.",
		Subcommands: []*cli.Command{
			{
				Name:  "public",
				Usage: "Shows the master public key of the authority.",
				Flags: toArray(folderFlag),
				Action: func(c *cli.Context) error {
					return showPublicCmd(c)
				},
			},
			{
				Name:  "info",
				Usage: "Shows the information a slot server of this authority advertises.",
				Flags: toArray(folderFlag),
				Action: func(c *cli.Context) error {
					return showInfoCmd(c)
				},
			},
		},
	},
	{
		Name:      "derive",
		Usage:     "Derive the identity keys of the given identities with the local authority.",
		ArgsUsage: "`ID1` `ID2` ... the identities, unless --rounds is used",
		Flags:     toArray(folderFlag, roundsFlag, idsFlag, outFlag),
		Action: func(c *cli.Context) error {
			return deriveCmd(c, logger(c, "derive"))
		},
	},
	{
		Name:      "encrypt",
		Usage:     "Encrypt a message so that any threshold of the identity keys decrypt it.",
		ArgsUsage: "`ID1` `ID2` ... the identities, unless --rounds or --ids is used",
		Flags: toArray(folderFlag, sourceFlag, messageFlag, inFlag, roundsFlag, idsFlag,
			thresholdFlag, outFlag, dbFlag, publicFlag, urlFlag, infoHashFlag, sealFlag),
		Action: func(c *cli.Context) error {
			return encryptCmd(c, logger(c, "encrypt"))
		},
	},
	{
		Name:  "decrypt",
		Usage: "Decrypt a bundle with the secrets it carries, a secrets file or a slot server.",
		Flags: toArray(inFlag, dbFlag, bundleIDFlag, secretsFlag, urlFlag, infoHashFlag,
			roundsFlag, idsFlag, waitFlag, schemeFlag, outFlag),
		Action: func(c *cli.Context) error {
			return decryptCmd(c, logger(c, "decrypt"))
		},
	},
	{
		Name:  "inspect",
		Usage: "Print a bundle as JSON, or list the local bundle store.",
		Flags: toArray(inFlag, dbFlag, bundleIDFlag),
		Action: func(c *cli.Context) error {
			return inspectCmd(c, logger(c, "inspect"))
		},
	},
	{
		Name:  "serve",
		Usage: "Serve the identity key of every released slot of the local authority.",
		Flags: toArray(folderFlag, listenFlag, accessLogFlag, metricsFlag),
		Action: func(c *cli.Context) error {
			banner(c.App.ErrWriter)
			return serveCmd(c, logger(c, "serve"))
		},
	},
	{
		Name:  "publish",
		Usage: "Upload a bundle to S3.",
		Flags: toArray(inFlag, dbFlag, bundleIDFlag, bucketFlag, regionFlag, bucketPrefixFlag, aclFlag),
		Action: func(c *cli.Context) error {
			return publishCmd(c, logger(c, "publish"))
		},
	},
	{
		Name:  "util",
		Usage: "Multiple commands of utility functions.",
		Subcommands: []*cli.Command{
			{
				Name:  "list-schemes",
				Usage: "List all scheme ids available to use\n",
				Action: func(c *cli.Context) error {
					for _, id := range crypto.ListSchemes() {
						fmt.Fprintf(c.App.Writer, "%s\n", id)
					}
					return nil
				},
			},
		},
	},
}

// CLI runs the etf app
func CLI() *cli.App {
	version := common.GetAppVersion()

	app := cli.NewApp()
	app.Name = "etf"

	SetVersionPrinter.Do(func() {
		cli.VersionPrinter = func(c *cli.Context) {
			fmt.Fprintln(c.App.Writer, common.Banner())
		}
	})

	app.ExitErrHandler = func(context *cli.Context, err error) {
		// override to prevent default behavior of calling OS.exit(1),
		// when tests expect to be able to run multiple commands.
	}
	app.Version = version.String()
	app.Usage = "encrypt to the future: threshold identity based encryption to time slots"
	// we need to copy the underlying commands to avoid races, cli sadly doesn't support concurrent executions well
	appComm := make([]*cli.Command, len(appCommands))
	for i, p := range appCommands {
		v := *p
		appComm[i] = &v
	}
	app.Commands = appComm
	verbFlag := *verboseFlag
	levelFlag := *logLevelFlag
	jFlag := *jsonFlag
	app.Flags = toArray(&verbFlag, &levelFlag, &jFlag)
	return app
}

func logger(c *cli.Context, name string) log.Logger {
	return log.New(os.Stderr, logLevel(c), c.Bool(jsonFlag.Name)).Named(name)
}

func logLevel(c *cli.Context) int {
	if c.Bool(verboseFlag.Name) {
		return log.DebugLevel
	}
	lvl, err := log.ParseLevel(c.String(logLevelFlag.Name))
	if err != nil {
		return log.ErrorLevel
	}
	return lvl
}

func toArray(flags ...cli.Flag) []cli.Flag {
	return flags
}

func schedulePath(c *cli.Context) string {
	return path.Join(c.String(folderFlag.Name), ScheduleFileName)
}

func keygenCmd(c *cli.Context, l log.Logger) error {
	sch, err := crypto.SchemeFromName(c.String(schemeFlag.Name))
	if err != nil {
		return err
	}
	genesis, err := parseGenesis(c.String(genesisFlag.Name), time.Now())
	if err != nil {
		return err
	}
	schedule, err := slot.NewSchedule(genesis, c.Duration(periodFlag.Name))
	if err != nil {
		return err
	}
	schedule.Prefix = c.String(prefixFlag.Name)

	folder := c.String(folderFlag.Name)
	fileStore, err := key.NewFileStore(folder)
	if err != nil {
		return err
	}
	if _, err := fileStore.LoadAuthority(); err == nil && !c.Bool(forceFlag.Name) {
		return fmt.Errorf("authority already present in `%s`: remove it or use --%s before generating a new one",
			path.Join(folder, key.KeyFolderName), forceFlag.Name)
	}

	var source io.Reader
	if c.IsSet(sourceFlag.Name) {
		if source, err = entropy.GetReaderFromSource(c.String(sourceFlag.Name), l); err != nil {
			return err
		}
	}
	a, err := key.NewAuthority(sch, source)
	if err != nil {
		return err
	}
	if err := fileStore.SaveAuthority(a); err != nil {
		return fmt.Errorf("could not save key: %w", err)
	}
	if err := key.Save(schedulePath(c), schedule, false); err != nil {
		return fmt.Errorf("could not save schedule: %w", err)
	}
	l.Infow("generated authority", "folder", folder, "scheme", sch.Name)

	fmt.Fprintf(c.App.Writer, "Generated authority at %s\n", folder)
	var buff bytes.Buffer
	if err := toml.NewEncoder(&buff).Encode(a.Public.TOML()); err != nil {
		return err
	}
	buff.WriteString("\n")
	fmt.Fprint(c.App.Writer, buff.String())
	fmt.Fprintf(c.App.Writer, "Hash of the slot server info: %s\n", chain.NewInfo(a.Public, schedule).HashString())
	return nil
}

func showPublicCmd(c *cli.Context) error {
	fileStore, err := key.NewFileStore(c.String(folderFlag.Name))
	if err != nil {
		return err
	}
	pub, err := fileStore.LoadPublic()
	if err != nil {
		return fmt.Errorf("etf: loading public key: %w", err)
	}
	return toml.NewEncoder(c.App.Writer).Encode(pub.TOML())
}

func showInfoCmd(c *cli.Context) error {
	a, s, err := loadAuthority(c)
	if err != nil {
		return err
	}
	return chain.NewInfo(a.Public, s).ToJSON(c.App.Writer)
}

func loadAuthority(c *cli.Context) (*key.Authority, *slot.Schedule, error) {
	fileStore, err := key.NewFileStore(c.String(folderFlag.Name))
	if err != nil {
		return nil, nil, err
	}
	a, err := fileStore.LoadAuthority()
	if err != nil {
		return nil, nil, fmt.Errorf("etf: loading authority: %w", err)
	}
	s, err := loadSchedule(c)
	if err != nil {
		return nil, nil, err
	}
	return a, s, nil
}

func loadSchedule(c *cli.Context) (*slot.Schedule, error) {
	s := new(slot.Schedule)
	if err := key.Load(schedulePath(c), s); err != nil {
		return nil, fmt.Errorf("etf: loading schedule: %w", err)
	}
	return s, nil
}

// identities returns the ids given through --rounds, --ids or the positional
// arguments, in this order of precedence.
func identities(c *cli.Context, schedule func() (*slot.Schedule, error)) ([][]byte, error) {
	if c.IsSet(roundsFlag.Name) {
		rounds, err := parseRounds(c.String(roundsFlag.Name))
		if err != nil {
			return nil, err
		}
		s, err := schedule()
		if err != nil {
			return nil, err
		}
		return s.Identities(rounds), nil
	}
	var words []string
	if c.IsSet(idsFlag.Name) {
		words = strings.Fields(c.String(idsFlag.Name))
	} else {
		words = c.Args().Slice()
	}
	if len(words) == 0 {
		return nil, errors.New("no identities given")
	}
	ids := make([][]byte, len(words))
	for i, w := range words {
		ids[i] = []byte(w)
	}
	return ids, nil
}

func parseRounds(s string) ([]uint64, error) {
	var rounds []uint64
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		r, err := strconv.ParseUint(f, 10, 64)
		if err != nil || r == 0 {
			return nil, fmt.Errorf("invalid round %q", f)
		}
		rounds = append(rounds, r)
	}
	if len(rounds) == 0 {
		return nil, errors.New("no rounds given")
	}
	return rounds, nil
}

func parseGenesis(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now.Truncate(time.Second), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid genesis %q: %w", s, err)
	}
	return t, nil
}

func writeOutput(c *cli.Context, data []byte) error {
	if !c.IsSet(outFlag.Name) {
		_, err := c.App.Writer.Write(data)
		return err
	}
	return os.WriteFile(c.String(outFlag.Name), data, 0o644)
}

func writeSecretOutput(c *cli.Context, data []byte) error {
	if !c.IsSet(outFlag.Name) {
		_, err := c.App.Writer.Write(data)
		return err
	}
	return fs.WriteSecureFile(c.String(outFlag.Name), data)
}
