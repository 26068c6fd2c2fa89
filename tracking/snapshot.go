package tracking

// Snapshot is a plain copy of a registry, for dumps.
type Snapshot struct {
	NetID    string            `yaml:"network"`
	Users    []UserSnapshot    `yaml:"users"`
	Channels []ChannelSnapshot `yaml:"channels"`
}

type UserSnapshot struct {
	Nick          string   `yaml:"nick"`
	Ident         string   `yaml:"ident,omitempty"`
	Host          string   `yaml:"host,omitempty"`
	Account       string   `yaml:"account,omitempty"`
	PreviousNicks []string `yaml:"previous-nicks,omitempty"`
	Channels      []string `yaml:"channels,omitempty"`
}

type ChannelSnapshot struct {
	Name      string              `yaml:"name"`
	Available bool                `yaml:"available"`
	Mode      string              `yaml:"mode,omitempty"`
	Topic     string              `yaml:"topic,omitempty"`
	Sync      string              `yaml:"sync"`
	Users     []string            `yaml:"users,omitempty"`
	Flags     map[string][]string `yaml:"flags,omitempty"`
}

func (r *Registry) Snapshot() Snapshot {
	s := Snapshot{NetID: r.netID}
	for _, u := range r.Users() {
		us := UserSnapshot{
			Nick:          u.Nick,
			Ident:         u.Ident(),
			Host:          u.Host(),
			Account:       u.Account,
			PreviousNicks: append([]string(nil), u.PreviousNicks...),
		}
		for _, c := range r.UserChannels(u.Nick) {
			us.Channels = append(us.Channels, c.Name)
		}
		s.Users = append(s.Users, us)
	}
	for _, c := range r.Channels() {
		cs := ChannelSnapshot{
			Name:      c.Name,
			Available: c.Available,
			Mode:      c.Mode,
			Topic:     c.Topic,
			Sync:      c.SyncState.String(),
		}
		for _, u := range r.ChannelUsers(c.Name) {
			cs.Users = append(cs.Users, u.Nick)
		}
		for symbol := range c.Flags {
			nicks := c.FlagNicks(symbol)
			if len(nicks) == 0 {
				continue
			}
			if cs.Flags == nil {
				cs.Flags = map[string][]string{}
			}
			cs.Flags[string(symbol)] = nicks
		}
		s.Channels = append(s.Channels, cs)
	}
	return s
}
