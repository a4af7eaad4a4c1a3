package models

import "fmt"

const (
	QualityLow      = "low"
	QualityStandard = "standard"
	QualityHigh     = "high"

	DataUsageLow      = "low"
	DataUsageBalanced = "balanced"
	DataUsageHigh     = "high"
)

type Settings struct {
	Notifications   bool   `json:"notifications" bson:"notifications"`
	AutoJoinEnabled bool   `json:"autoJoinEnabled" bson:"auto_join_enabled"`
	VideoQuality    string `json:"videoQuality" bson:"video_quality"`
	AudioQuality    string `json:"audioQuality" bson:"audio_quality"`
	DataUsage       string `json:"dataUsage" bson:"data_usage"`
}

func DefaultSettings() Settings {
	return Settings{
		Notifications:   true,
		AutoJoinEnabled: true,
		VideoQuality:    QualityStandard,
		AudioQuality:    QualityStandard,
		DataUsage:       DataUsageBalanced,
	}
}

// SettingsPatch is a partial update; nil fields are left alone.
type SettingsPatch struct {
	Notifications   *bool   `json:"notifications"`
	AutoJoinEnabled *bool   `json:"autoJoinEnabled"`
	VideoQuality    *string `json:"videoQuality"`
	AudioQuality    *string `json:"audioQuality"`
	DataUsage       *string `json:"dataUsage"`
}

func (p SettingsPatch) Validate() error {
	for name, v := range map[string]*string{"videoQuality": p.VideoQuality, "audioQuality": p.AudioQuality} {
		if v != nil && *v != QualityLow && *v != QualityStandard && *v != QualityHigh {
			return fmt.Errorf("%s must be one of low, standard, high", name)
		}
	}
	if p.DataUsage != nil && *p.DataUsage != DataUsageLow && *p.DataUsage != DataUsageBalanced && *p.DataUsage != DataUsageHigh {
		return fmt.Errorf("dataUsage must be one of low, balanced, high")
	}
	return nil
}

func (p SettingsPatch) Apply(s Settings) Settings {
	if p.Notifications != nil {
		s.Notifications = *p.Notifications
	}
	if p.AutoJoinEnabled != nil {
		s.AutoJoinEnabled = *p.AutoJoinEnabled
	}
	if p.VideoQuality != nil {
		s.VideoQuality = *p.VideoQuality
	}
	if p.AudioQuality != nil {
		s.AudioQuality = *p.AudioQuality
	}
	if p.DataUsage != nil {
		s.DataUsage = *p.DataUsage
	}
	return s
}
