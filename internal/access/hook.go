package access

// HookKind identifies one category of sensitive operation the host asks the
// core to authorize before performing it. The set is closed at build time;
// HookMax is its cardinality.
type HookKind int

const (
	HookGetSinkInfo HookKind = iota
	HookGetSourceInfo
	HookGetSinkInputInfo
	HookGetSourceOutputInfo
	HookGetClientInfo
	HookGetModuleInfo
	HookGetCardInfo
	HookGetSampleInfo
	HookGetServerInfo
	HookStat
	HookPlaySample
	HookConnectPlayback
	HookConnectRecord
	HookMoveSinkInput
	HookSetSinkInputVolume
	HookSetSinkInputMute
	HookKillSinkInput
	HookMoveSourceOutput
	HookSetSourceOutputVolume
	HookSetSourceOutputMute
	HookKillSourceOutput
	HookKillClient
	HookFilterSubscribeEvent

	HookMax
)

// String returns the string representation of the hook kind
func (h HookKind) String() string {
	names := [...]string{
		"get_sink_info",
		"get_source_info",
		"get_sink_input_info",
		"get_source_output_info",
		"get_client_info",
		"get_module_info",
		"get_card_info",
		"get_sample_info",
		"get_server_info",
		"stat",
		"play_sample",
		"connect_playback",
		"connect_record",
		"move_sink_input",
		"set_sink_input_volume",
		"set_sink_input_mute",
		"kill_sink_input",
		"move_source_output",
		"set_source_output_volume",
		"set_source_output_mute",
		"kill_source_output",
		"kill_client",
		"filter_subscribe_event",
	}
	if h >= 0 && int(h) < len(names) {
		return names[h]
	}
	return "unknown"
}

// Valid reports whether h names a real hook kind.
func (h HookKind) Valid() bool {
	return h >= 0 && h < HookMax
}

// sinkInputHook reports whether h operates on a sink-input object.
func sinkInputHook(h HookKind) bool {
	switch h {
	case HookGetSinkInputInfo, HookMoveSinkInput, HookSetSinkInputVolume,
		HookSetSinkInputMute, HookKillSinkInput:
		return true
	}
	return false
}

// sourceOutputHook reports whether h operates on a source-output object.
func sourceOutputHook(h HookKind) bool {
	switch h {
	case HookGetSourceOutputInfo, HookMoveSourceOutput, HookSetSourceOutputVolume,
		HookSetSourceOutputMute, HookKillSourceOutput:
		return true
	}
	return false
}
