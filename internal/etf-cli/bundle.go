package etfcli

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/google/uuid"
	json "github.com/nikkolasg/hexjson"
	"github.com/urfave/cli/v2"

	client "github.com/ideal-lab5/etf-cli/client/http"
	"github.com/ideal-lab5/etf-cli/common/log"
	"github.com/ideal-lab5/etf-cli/crypto"
	"github.com/ideal-lab5/etf-cli/etf"
	"github.com/ideal-lab5/etf-cli/internal/entropy"
	"github.com/ideal-lab5/etf-cli/internal/metrics"
	"github.com/ideal-lab5/etf-cli/internal/slot"
	"github.com/ideal-lab5/etf-cli/internal/store/boltdb"
	"github.com/ideal-lab5/etf-cli/key"
)

const refreshRate = 500 * time.Millisecond

func deriveCmd(c *cli.Context, l log.Logger) error {
	a, err := loadAuthorityOnly(c)
	if err != nil {
		return err
	}
	ids, err := identities(c, func() (*slot.Schedule, error) { return loadSchedule(c) })
	if err != nil {
		return err
	}
	secrets, err := a.CalculateSecretKeys(ids)
	if err != nil {
		return err
	}
	l.Debugw("derived identity keys", "n", len(ids))
	buff, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return writeSecretOutput(c, append(buff, '\n'))
}

func loadAuthorityOnly(c *cli.Context) (*key.Authority, error) {
	fileStore, err := key.NewFileStore(c.String(folderFlag.Name))
	if err != nil {
		return nil, err
	}
	a, err := fileStore.LoadAuthority()
	if err != nil {
		return nil, fmt.Errorf("etf: loading authority: %w", err)
	}
	return a, nil
}

func readMessage(c *cli.Context) ([]byte, error) {
	switch {
	case c.IsSet(messageFlag.Name):
		return []byte(c.String(messageFlag.Name)), nil
	case c.IsSet(inFlag.Name):
		return os.ReadFile(c.String(inFlag.Name))
	default:
		return io.ReadAll(c.App.Reader)
	}
}

func newSlotClient(c *cli.Context, l log.Logger) (*client.Client, error) {
	var infoHash []byte
	if c.IsSet(infoHashFlag.Name) {
		h, err := hex.DecodeString(c.String(infoHashFlag.Name))
		if err != nil {
			return nil, fmt.Errorf("invalid info hash: %w", err)
		}
		infoHash = h
	}
	metrics.Bind(l)
	return client.New(c.Context, l, c.String(urlFlag.Name), infoHash, nil)
}

func encryptCmd(c *cli.Context, l log.Logger) error {
	if !c.IsSet(thresholdFlag.Name) {
		return fmt.Errorf("missing --%s", thresholdFlag.Name)
	}
	msg, err := readMessage(c)
	if err != nil {
		return err
	}

	var opts []etf.Option
	if c.IsSet(sourceFlag.Name) {
		source, err := entropy.GetReaderFromSource(c.String(sourceFlag.Name), l)
		if err != nil {
			return err
		}
		opts = append(opts, etf.WithRandomness(source))
	}
	opts = append(opts, etf.WithLogger(l), etf.WithMetrics(metrics.NewRecorder()))

	var b *etf.Bundle
	switch {
	case c.IsSet(urlFlag.Name):
		sc, err := newSlotClient(c, l)
		if err != nil {
			return err
		}
		defer sc.Close()
		ids, err := identities(c, func() (*slot.Schedule, error) { return sc.Schedule(), nil })
		if err != nil {
			return err
		}
		pub := sc.MasterPublic()
		b, err = etf.New(pub.Scheme, opts...).Seal(pub, msg, ids, c.Int(thresholdFlag.Name))
		if err != nil {
			return err
		}
	case c.IsSet(publicFlag.Name):
		pub := new(key.MasterPublic)
		if err := key.Load(c.String(publicFlag.Name), pub); err != nil {
			return fmt.Errorf("etf: loading public key: %w", err)
		}
		ids, err := identities(c, func() (*slot.Schedule, error) { return loadSchedule(c) })
		if err != nil {
			return err
		}
		b, err = etf.New(pub.Scheme, opts...).Seal(pub, msg, ids, c.Int(thresholdFlag.Name))
		if err != nil {
			return err
		}
	default:
		a, err := loadAuthorityOnly(c)
		if err != nil {
			return err
		}
		ids, err := identities(c, func() (*slot.Schedule, error) { return loadSchedule(c) })
		if err != nil {
			return err
		}
		engine := etf.New(a.Scheme(), opts...)
		if c.Bool(sealFlag.Name) {
			b, err = engine.Seal(a.Public, msg, ids, c.Int(thresholdFlag.Name))
		} else {
			b, err = engine.Encrypt(a, msg, ids, c.Int(thresholdFlag.Name))
		}
		if err != nil {
			return err
		}
	}

	if c.IsSet(dbFlag.Name) {
		st, err := boltdb.NewBoltStore(c.Context, l, c.String(dbFlag.Name), nil)
		if err != nil {
			return err
		}
		defer st.Close()
		id, err := st.Put(c.Context, b)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s\n", id)
		if !c.IsSet(outFlag.Name) {
			return nil
		}
	}

	if c.IsSet(outFlag.Name) {
		buff, err := etf.Encode(b)
		if err != nil {
			return err
		}
		return writeOutput(c, buff)
	}
	buff, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	return writeOutput(c, append(buff, '\n'))
}

// loadBundle reads the bundle from --in, in its binary or JSON form, or from
// the bundle store.
func loadBundle(c *cli.Context, l log.Logger) (*etf.Bundle, uuid.UUID, error) {
	if c.IsSet(inFlag.Name) {
		buff, err := os.ReadFile(c.String(inFlag.Name))
		if err != nil {
			return nil, uuid.Nil, err
		}
		b, err := etf.Decode(buff)
		if err == nil {
			return b, uuid.Nil, nil
		}
		jb := new(etf.Bundle)
		if jerr := json.Unmarshal(buff, jb); jerr != nil {
			return nil, uuid.Nil, err
		}
		return jb, uuid.Nil, nil
	}
	if !c.IsSet(dbFlag.Name) || !c.IsSet(bundleIDFlag.Name) {
		return nil, uuid.Nil, fmt.Errorf("a bundle is read from --%s or from --%s and --%s", inFlag.Name, dbFlag.Name, bundleIDFlag.Name)
	}
	id, err := uuid.Parse(c.String(bundleIDFlag.Name))
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("invalid bundle id: %w", err)
	}
	st, err := boltdb.NewBoltStore(c.Context, l, c.String(dbFlag.Name), nil)
	if err != nil {
		return nil, uuid.Nil, err
	}
	defer st.Close()
	b, err := st.Get(c.Context, id)
	return b, id, err
}

func decryptCmd(c *cli.Context, l log.Logger) error {
	b, _, err := loadBundle(c, l)
	if err != nil {
		return err
	}
	var sch *crypto.Scheme
	if c.IsSet(schemeFlag.Name) {
		if sch, err = crypto.SchemeFromName(c.String(schemeFlag.Name)); err != nil {
			return err
		}
	}
	secrets := b.Secrets
	switch {
	case c.IsSet(secretsFlag.Name):
		buff, err := os.ReadFile(c.String(secretsFlag.Name))
		if err != nil {
			return err
		}
		if err := json.Unmarshal(buff, &secrets); err != nil {
			return fmt.Errorf("invalid secrets file: %w", err)
		}
	case c.IsSet(urlFlag.Name):
		sc, err := newSlotClient(c, l)
		if err != nil {
			return err
		}
		defer sc.Close()
		sch = sc.MasterPublic().Scheme
		secrets, err = fetchSecrets(c, l, sc, b)
		if err != nil {
			return err
		}
	}

	engine := etf.New(sch, etf.WithLogger(l), etf.WithMetrics(metrics.NewRecorder()))
	msg, err := engine.Decrypt(b.Ciphertext, b.Nonce, b.EtfCt, secrets)
	if err != nil {
		return err
	}
	return writeSecretOutput(c, msg)
}

// fetchSecrets asks the slot server for the keys of the bundle identities.
// Bundles do not carry their identities, they are read from --rounds or --ids.
func fetchSecrets(c *cli.Context, l log.Logger, sc *client.Client, b *etf.Bundle) ([][]byte, error) {
	ids, err := identities(c, func() (*slot.Schedule, error) { return sc.Schedule(), nil })
	if err != nil {
		return nil, fmt.Errorf("the slot identities of the bundle are needed: %w", err)
	}
	if len(ids) != len(b.EtfCt) {
		return nil, fmt.Errorf("%d identities given for %d capsules", len(ids), len(b.EtfCt))
	}
	if !c.Bool(waitFlag.Name) {
		return sc.Secrets(c.Context, ids)
	}
	t, err := b.Threshold()
	if err != nil {
		return nil, err
	}
	return waitWithSpinner(c.Context, c.App.ErrWriter, l, sc, ids, t)
}

func waitWithSpinner(ctx context.Context, w io.Writer, l log.Logger, sc *client.Client, ids [][]byte, t int) ([][]byte, error) {
	start := time.Now()
	s := spinner.New(spinner.CharSets[9], refreshRate, spinner.WithWriter(w))
	s.PreUpdate = func(spin *spinner.Spinner) {
		spin.Suffix = fmt.Sprintf("  waiting for %d of %d slots to be released (%s)",
			t, len(ids), time.Since(start).Truncate(time.Second))
	}
	s.Start()
	defer s.Stop()

	secrets, err := sc.WaitSecrets(ctx, ids, t)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			l.Warnw("waiting interrupted")
		}
		return nil, err
	}
	return secrets, nil
}

func inspectCmd(c *cli.Context, l log.Logger) error {
	if c.IsSet(dbFlag.Name) && !c.IsSet(bundleIDFlag.Name) && !c.IsSet(inFlag.Name) {
		st, err := boltdb.NewBoltStore(c.Context, l, c.String(dbFlag.Name), nil)
		if err != nil {
			return err
		}
		defer st.Close()
		ids, err := st.List(c.Context)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintf(c.App.Writer, "%s\n", id)
		}
		return nil
	}

	b, _, err := loadBundle(c, l)
	if err != nil {
		return err
	}
	if err := b.Validate(); err != nil {
		fmt.Fprintf(c.App.ErrWriter, "invalid bundle: %v\n", err)
	}
	out := struct {
		Bundle    *etf.Bundle `json:"bundle"`
		Threshold int         `json:"threshold"`
		Released  int         `json:"released"`
	}{Bundle: b, Released: b.Released()}
	if t, err := b.Threshold(); err == nil {
		out.Threshold = t
	}
	buff, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.App.Writer, "%s\n", buff)
	return err
}
