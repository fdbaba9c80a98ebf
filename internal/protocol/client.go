package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/udisondev/xrayguard/internal/voxel"
)

// EyeHeight is the eye offset above the feet position a client reports.
const EyeHeight = 1.62

// ProtocolVersion is sent in the welcome message.
const ProtocolVersion = "1.0"

//go:embed schemas/*.json
var schemaFS embed.FS

// PoseMsg is a client's position and look direction. X, Y, Z are the feet position.
type PoseMsg struct {
	Type  string  `json:"type"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
}

// Eye returns the eye position.
func (m PoseMsg) Eye() voxel.Vec3 {
	return voxel.Vec3{X: m.X, Y: m.Y + EyeHeight, Z: m.Z}
}

// WelcomeMsg is the first text message a client receives.
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PlayerID        uint64 `json:"player_id"`
}

// NewWelcome builds the welcome message for player.
func NewWelcome(player uint64) WelcomeMsg {
	return WelcomeMsg{Type: "WELCOME", ProtocolVersion: ProtocolVersion, PlayerID: player}
}

// SetBlockMsg asks the server to change one block. Block is a palette name.
type SetBlockMsg struct {
	Type  string `json:"type"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Z     int    `json:"z"`
	Block string `json:"block"`
}

// Pos returns the target voxel.
func (m SetBlockMsg) Pos() voxel.Pos {
	return voxel.Pos{X: m.X, Y: m.Y, Z: m.Z}
}

// Inbound message types.
const (
	TypePose     = "POSE"
	TypeSetBlock = "SET_BLOCK"
)

var schemaFiles = map[string]string{
	TypePose:     "schemas/pose.schema.json",
	TypeSetBlock: "schemas/set_block.schema.json",
}

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func compileSchemas() (map[string]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		c := jsonschema.NewCompiler()
		for _, file := range schemaFiles {
			data, err := schemaFS.ReadFile(file)
			if err != nil {
				schemasErr = fmt.Errorf("reading schema %s: %w", file, err)
				return
			}
			if err := c.AddResource(file, bytes.NewReader(data)); err != nil {
				schemasErr = fmt.Errorf("adding schema %s: %w", file, err)
				return
			}
		}
		out := make(map[string]*jsonschema.Schema, len(schemaFiles))
		for typ, file := range schemaFiles {
			sch, err := c.Compile(file)
			if err != nil {
				schemasErr = fmt.Errorf("compiling schema %s: %w", file, err)
				return
			}
			out[typ] = sch
		}
		schemas = out
	})
	return schemas, schemasErr
}

// ParseClientMessage decodes and validates an inbound text message. It
// returns PoseMsg or SetBlockMsg.
func ParseClientMessage(data []byte) (any, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	switch head.Type {
	case TypePose:
		return ParsePose(data)
	case TypeSetBlock:
		return ParseSetBlock(data)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, head.Type)
	}
}

// ParsePose decodes and validates a POSE message.
func ParsePose(data []byte) (PoseMsg, error) {
	var msg PoseMsg
	err := parseValidated(TypePose, data, &msg)
	return msg, err
}

// ParseSetBlock decodes and validates a SET_BLOCK message.
func ParseSetBlock(data []byte) (SetBlockMsg, error) {
	var msg SetBlockMsg
	err := parseValidated(TypeSetBlock, data, &msg)
	return msg, err
}

func parseValidated(typ string, data []byte, dst any) error {
	all, err := compileSchemas()
	if err != nil {
		return err
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if err := all[typ].Validate(doc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	return nil
}
