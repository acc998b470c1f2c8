/*
Package authsdk is a Go client for the stockroom authentication service.

SDKClient covers the public endpoints and creates Sessions:

	client := authsdk.NewSDKClient("https://auth.example.com")

	session, err := client.Login(ctx, "alice", password)
	if errors.Is(err, authsdk.ErrMFARequired) {
		session, err = client.LoginWithMFA(ctx, "alice", password, code)
	}

A Session holds the token pair and refreshes the access token shortly before
it expires. Refresh re-reads the user's roles, so a session picks up grant
changes on its next refresh:

	me, err := session.Me(ctx)
	err = session.ChangePassword(ctx, current, next)

Failed calls return *APIError. Use IsCode to test for a specific error code:

	if authsdk.IsCode(err, authsdk.ErrorCodeAccountLocked) {
		// wait out the lock or ask an administrator to unlock
	}

The request and response types in this package are also what the server
encodes, so the two cannot drift apart.
*/
package authsdk
