/*
Package clients provides Go clients for the enclave node HTTP API.

AdminClient drives the consensus seed bootstrap on /admin. Requests are
signed with the admin's ECDSA key (see httpserver.CreateSignedAdminRequest):

	c := clients.NewAdminClient("http://node:8080/admin", adminID, privateKey)
	if _, err := c.InitGenerate(ctx, 2, 3); err != nil {
		return err
	}
	share, err := c.FetchShare(ctx)
	...
	raw, err := clients.DecryptShare(privateKeyPEM, share)

NodeClient reads the public registration and the io exchange key, and calls
the host API (/api/host/...) on nodes that expose it. UserSession seals
contract inputs to the node's io exchange key and opens encrypted outputs,
which is what a wallet does.
*/
package clients
