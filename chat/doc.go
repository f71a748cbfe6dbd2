// Package chat connects the bot to Twitch IRC.
//
// Client adapts a go-twitch-irc client to the bot.Sender capability. Run wires
// the IRC callbacks to a Router: PRIVMSG, JOIN and PART are converted to bot
// events and dispatched, the bot's own messages are ignored, every configured
// channel is joined before the connection opens, and the call blocks until
// the context ends.
//
// By default events are dispatched synchronously on the IRC reader
// goroutine. With a queue size > 0 they go through a Queue instead, which runs
// one ordered lane per channel so a slow external fetch only holds up its own
// channel.
//
// Credentials: the IRC client needs the bot username and a user OAuth token
// with chat:read and chat:edit scopes. The "oauth:" prefix is added when
// missing.
package chat
