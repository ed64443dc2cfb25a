package ledger

import (
	"encoding/json"
	"fmt"
)

// Stage is a node in the fixed batch lifecycle
type Stage uint8

const (
	StageRaw Stage = iota
	StageSlaughtered
	StageProcessed
	StagePackaged
	StageShipped
	StageDelivered
)

var stageNames = [...]string{
	StageRaw:         "Raw",
	StageSlaughtered: "Slaughtered",
	StageProcessed:   "Processed",
	StagePackaged:    "Packaged",
	StageShipped:     "Shipped",
	StageDelivered:   "Delivered",
}

// Downstream consumers match on these literal strings.
var stageStatus = [...]string{
	StageRaw:         "Raw Chicken Registered",
	StageSlaughtered: "Slaughtered",
	StageProcessed:   "Processed",
	StagePackaged:    "Packaged",
	StageShipped:     "Shipped",
	StageDelivered:   "Delivered to Retailer",
}

func (s Stage) valid() bool {
	return int(s) < len(stageNames)
}

// String returns the stage name
func (s Stage) String() string {
	if !s.valid() {
		return fmt.Sprintf("Stage(%d)", uint8(s))
	}
	return stageNames[s]
}

// Status returns the human readable status label of the stage
func (s Stage) Status() string {
	if !s.valid() {
		return ""
	}
	return stageStatus[s]
}

// ParseStage converts a stage name into a Stage
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", name)
}

// MarshalJSON encodes the stage by name
func (s Stage) MarshalJSON() ([]byte, error) {
	if !s.valid() {
		return nil, fmt.Errorf("invalid stage %d", uint8(s))
	}
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a stage name
func (s *Stage) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseStage(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// manufacturingSteps are the only transitions updateStage may perform.
// Shipped and Delivered are reached through recordShipment and confirmReceived.
var manufacturingSteps = map[Stage]Stage{
	StageRaw:         StageSlaughtered,
	StageSlaughtered: StageProcessed,
	StageProcessed:   StagePackaged,
}

func isManufacturingStep(from, to Stage) bool {
	next, ok := manufacturingSteps[from]
	return ok && next == to
}
