package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/pinkfuwa/llumen-go/chat/entity"
)

// ModelFile is the parsed shape of a model's TOML definition. ModelID is
// stored without the ":online" suffix; callers that need OpenRouter's
// native-tool variant append it themselves.
type ModelFile struct {
	DisplayName string              `toml:"display_name"`
	ModelID     string              `toml:"model_id"`
	Capability  ModelCapabilityFile `toml:"capability"`
	Parameter   ModelParameterFile  `toml:"parameter"`
}

// ModelCapabilityFile mirrors entity.Capability's TOML encoding.
type ModelCapabilityFile struct {
	Image bool   `toml:"image"`
	Audio bool   `toml:"audio"`
	OCR   string `toml:"ocr"` // "Native", "Text", "Mistral", "Disabled"
	Tool  bool   `toml:"tool"`
	JSON  bool   `toml:"json"`
}

// ModelParameterFile mirrors entity.ModelParameter's TOML encoding, with the
// bounds spec.md §6.4 specifies for each field.
type ModelParameterFile struct {
	Temperature   float32 `toml:"temperature"`   // 0..1
	TopP          float32 `toml:"top_p"`         // 0..1
	TopK          int32   `toml:"top_k"`         // 0..100
	RepeatPenalty float32 `toml:"repeat_penalty"` // >=1.0
}

// LoadModelFile parses a model TOML file from path.
func LoadModelFile(path string) (ModelFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ModelFile{}, fmt.Errorf("config: read model file: %w", err)
	}
	var mf ModelFile
	if err := toml.Unmarshal(data, &mf); err != nil {
		return ModelFile{}, fmt.Errorf("config: parse model file: %w", err)
	}
	if err := mf.Validate(); err != nil {
		return ModelFile{}, err
	}
	return mf, nil
}

// Validate enforces spec.md §6.4's parameter bounds.
func (mf ModelFile) Validate() error {
	p := mf.Parameter
	if p.Temperature < 0 || p.Temperature > 1 {
		return fmt.Errorf("config: temperature %v out of range [0,1]", p.Temperature)
	}
	if p.TopP < 0 || p.TopP > 1 {
		return fmt.Errorf("config: top_p %v out of range [0,1]", p.TopP)
	}
	if p.TopK < 0 || p.TopK > 100 {
		return fmt.Errorf("config: top_k %v out of range [0,100]", p.TopK)
	}
	if p.RepeatPenalty != 0 && p.RepeatPenalty < 1.0 {
		return fmt.Errorf("config: repeat_penalty %v must be >= 1.0", p.RepeatPenalty)
	}
	if _, ok := parseOcrEngine(mf.Capability.OCR); !ok {
		return fmt.Errorf("config: unknown ocr engine %q", mf.Capability.OCR)
	}
	return nil
}

// ToEntity converts the parsed file into the runtime ModelConfig, with id
// assigned by the caller (the persistence layer owns identity).
func (mf ModelFile) ToEntity(id int64) entity.ModelConfig {
	ocr, _ := parseOcrEngine(mf.Capability.OCR)
	return entity.ModelConfig{
		ID:          id,
		DisplayName: mf.DisplayName,
		ModelID:     strings.TrimSuffix(mf.ModelID, ":online"),
		Capability: entity.Capability{
			TextOutput:       true,
			ImageOutput:      mf.Capability.Image,
			ImageInput:       mf.Capability.Image,
			Audio:            mf.Capability.Audio,
			OCR:              ocr,
			Tool:             mf.Capability.Tool,
			StructuredOutput: mf.Capability.JSON,
		},
		Parameter: entity.ModelParameter{
			Temperature:   mf.Parameter.Temperature,
			TopP:          mf.Parameter.TopP,
			TopK:          mf.Parameter.TopK,
			RepeatPenalty: mf.Parameter.RepeatPenalty,
		},
	}
}

func parseOcrEngine(s string) (entity.OcrEngine, bool) {
	switch s {
	case "", "Disabled":
		return entity.OcrDisabled, true
	case "Native":
		return entity.OcrNative, true
	case "Text":
		return entity.OcrText, true
	case "Mistral":
		return entity.OcrMistral, true
	default:
		return entity.OcrDisabled, false
	}
}
