package tenant

// PresetThresholds are the exclusive upper bounds of each tier for channel
// and user totals. A value at or above the medium bound is large.
type PresetThresholds struct {
	ChannelsSmall  int
	ChannelsMedium int
	ChannelsLarge  int
	UsersSmall     int
	UsersMedium    int
	UsersLarge     int
}

// DefaultPresetThresholds returns the stock sizing table.
func DefaultPresetThresholds() PresetThresholds {
	return PresetThresholds{
		ChannelsSmall:  50,
		ChannelsMedium: 200,
		ChannelsLarge:  500,
		UsersSmall:     100,
		UsersMedium:    500,
		UsersLarge:     2000,
	}
}

func bucket(v, small, medium, large int) Preset {
	switch {
	case v < small:
		return PresetMicro
	case v < medium:
		return PresetSmall
	case v < large:
		return PresetMedium
	default:
		return PresetLarge
	}
}

// PresetFor buckets channel and user totals and returns the larger tier.
func (t PresetThresholds) PresetFor(req ServiceRequirements) Preset {
	byChannels := bucket(req.Channels(), t.ChannelsSmall, t.ChannelsMedium, t.ChannelsLarge)
	byUsers := bucket(req.Users(), t.UsersSmall, t.UsersMedium, t.UsersLarge)
	if byChannels.Less(byUsers) {
		return byUsers
	}
	return byChannels
}
