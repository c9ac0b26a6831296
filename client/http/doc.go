/*
Package http fetches released slot keys from a slot server.

The client reads the server's /info once, optionally pinned by its hash, and
verifies every key it receives against the advertised master public key with
a pairing check before handing it out. Verified keys are cached.

Example:

	c, err := http.New(ctx, log.DefaultLogger(), "http://localhost:8080", infoHash, nil)
	if err != nil {
		panic(err)
	}
	defer c.Close()

	secrets, err := c.WaitSecrets(ctx, bundleIDs, threshold)
	if err != nil {
		panic(err)
	}
	msg, err := etf.Decrypt(b.Ciphertext, b.Nonce, b.EtfCt, secrets)
*/
package http
