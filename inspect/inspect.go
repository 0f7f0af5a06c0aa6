package inspect

import "time"

type EngineInspectResult struct {
	EngineId                string                  `json:"engineId"`
	Version                 string                  `json:"version"`
	Closed                  bool                    `json:"closed"`
	Initialized             bool                    `json:"initialized"`
	TrustListenerRegistered bool                    `json:"trustListenerRegistered"`
	CredentialEpoch         uint64                  `json:"credentialEpoch"`
	PatternOverrideActive   bool                    `json:"patternOverrideActive"`
	Config                  *EngineConfigDetail     `json:"config"`
	Triggers                []*TriggerInspectDetail `json:"triggers"`
}

type EngineConfigDetail struct {
	DirectMode       string `json:"directMode"`
	DirectPolicy     string `json:"directPolicy"`
	SmartEnabled     bool   `json:"smartEnabled"`
	SmartPolicy      string `json:"smartPolicy"`
	QuickUnlock      bool   `json:"quickUnlock"`
	PinLength        int    `json:"pinLength"`
	HidePatternError bool   `json:"hidePatternError"`
	DirectDelay      string `json:"directDelay"`
	SmartDelay       string `json:"smartDelay"`
}

type TriggerInspectDetail struct {
	Trigger    string     `json:"trigger"`
	Policy     string     `json:"policy"`
	Armed      bool       `json:"armed"`
	FireAt     *time.Time `json:"fireAt,omitempty"`
	Generation uint64     `json:"generation"`
}

// Trigger returns the detail for the named trigger, or nil.
func (self *EngineInspectResult) Trigger(name string) *TriggerInspectDetail {
	for _, t := range self.Triggers {
		if t.Trigger == name {
			return t
		}
	}
	return nil
}
