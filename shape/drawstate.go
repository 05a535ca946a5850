package shape

// DrawState is the renderer's view of the object being drawn. Shape code
// reads it through the value bindings in the Registry, and the record walker
// uses it to pick LOD, detail, damage and animation frame.
type DrawState struct {
	Damaged     bool   `toml:"damaged"`
	Closeness   int    `toml:"closeness"`
	FrameNumber int    `toml:"frame_number"`
	Detail      uint16 `toml:"detail"`

	GearDown     bool   `toml:"gear_down"`
	GearPosition uint32 `toml:"gear_position"`
	BayOpen      bool   `toml:"bay_open"`
	BayPosition  uint32 `toml:"bay_position"`

	FlapsDown          bool `toml:"flaps_down"`
	SlatsDown          bool `toml:"slats_down"`
	AirbrakeExtended   bool `toml:"airbrake_extended"`
	HookExtended       bool `toml:"hook_extended"`
	AfterburnerEnabled bool `toml:"afterburner_enabled"`

	RudderPosition       int32  `toml:"rudder_position"`
	LeftAileronPosition  int32  `toml:"left_aileron_position"`
	RightAileronPosition int32  `toml:"right_aileron_position"`
	SAMCount             uint32 `toml:"sam_count"`
	CurrentTicks         uint32 `toml:"current_ticks"`
	HardpointsLoaded     uint32 `toml:"hardpoints_loaded"`
	HardpointAngle       uint32 `toml:"hardpoint_angle"`
	InsectWingAngle      uint32 `toml:"insect_wing_angle"`
}

// DefaultDrawState is a close-up, undamaged aircraft with everything
// deployed.
func DefaultDrawState() DrawState {
	return DrawState{
		Closeness:          0x200,
		Detail:             4,
		GearDown:           true,
		GearPosition:       18,
		BayOpen:            true,
		BayPosition:        18,
		AirbrakeExtended:   true,
		HookExtended:       true,
		AfterburnerEnabled: true,
		HardpointsLoaded:   1,
		HardpointAngle:     256,
		InsectWingAngle:    256,
	}
}

func boolWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
