// Package terminal bridges browser websocket connections to interactive
// processes running inside containers.
//
// A connection is served by [Gateway.Serve] in this order:
//
//  1. The mode query parameter is validated ([ParseMode]).
//  2. [Handshake] waits for {"type":"auth","token":...} within the auth
//     timeout and decodes the token through an [Authenticator]. Only
//     privileged principals pass.
//  3. [Registry.Admit] enforces one live session per principal. An entry
//     older than the stale threshold is reclaimed and its session evicted.
//  4. [OpenExec] resolves the container and starts the mode's command with
//     a pseudo-terminal, yielding an [ExecBinding].
//  5. {"type":"auth_success"} is sent and [Forward] pumps bytes in both
//     directions until either side ends.
//
// Any failure before step 5 is written to the client as
// {"type":"error","reason":...,"message":...,"close":true} and the socket is
// closed with the reason's code ([Reason.CloseCode]). Nothing is left in
// the registry and no exec stays open.
//
// # Wire protocol
//
// Binary frames carry raw terminal bytes in both directions. Text frames
// from the client are control messages; the only one accepted after the
// handshake is {"type":"resize","cols":N,"rows":N}, which is applied through
// the runtime and never written to the process. Other text frames are
// dropped.
//
// # Limits
//
// Binary input frames above [MaxInputMessageSize] are dropped, client frames
// are throttled to [MessageRateLimit] per second with a burst of
// [MessageRateBurst], and resizes are clamped to [MaxTermCols] x
// [MaxTermRows].
//
// # Log Prefixes
//
// Session activity logs at [terminal]; admission logs at [registry].
package terminal
