package irc

// IRC replies.
const (
	rplWelcome  = "001" // :Welcome message
	rplIsupport = "005" // 1*13<TOKEN[=value]> :are supported by this server

	rplEndofmotd = "376" // :End of MOTD command

	errNomotd        = "422" // :MOTD file missing
	errNicknameinuse = "433" // <nick> :Nickname in use

	rplLoggedin    = "900" // <nick> <nick>!<ident>@<host> <account> :You are now logged in as <user>
	rplLoggedout   = "901" // <nick> <nick>!<ident>@<host> :You are now logged out
	errNicklocked  = "902" // :You must use a nick assigned to you
	rplSaslsuccess = "903" // :SASL authentication successful
	errSaslfail    = "904" // :SASL authentication failed
	errSasltoolong = "905" // :SASL message too long
	errSaslaborted = "906" // :SASL authentication aborted
	errSaslalready = "907" // :You have already authenticated using SASL
	rplSaslmechs   = "908" // <mechanisms> :are available SASL mechanisms
)

// Replies the tracker subscribes to.
const (
	RplEndofwho        = "315" // <name> :End of WHO list
	RplChannelmodeis   = "324" // <channel> <modes> <mode params>
	RplTopic           = "332" // <channel> <topic>
	RplWhoreply        = "352" // <channel> <user> <host> <server> <nick> "H"/"G" ["*"] [("@"/"+")] :<hop count> <nick>
	RplNamreply        = "353" // <=/*/@> <channel> :1*(@/ /+user)
	RplWhospecialreply = "354" // [token] [channel] [user] [ip] [host] [server] [nick] [flags] [hopcount] [idle] [account] [oplevel] [:realname]
	RplEndofnames      = "366" // <channel> :End of names list
)
