package llms

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// part types on the wire
const (
	partText         = "text"
	partImageURL     = "image_url"
	partBinary       = "binary"
	partToolCall     = "tool_call"
	partToolResponse = "tool_response"
)

// ErrUnknownPart is returned when decoding a message part of unknown type.
var ErrUnknownPart = errors.New("unknown content part type")

type partJSON struct {
	Type         string            `json:"type"`
	Text         string            `json:"text,omitempty"`
	ImageURL     *ImageURLContent  `json:"image_url,omitempty"`
	Binary       *BinaryContent    `json:"binary,omitempty"`
	ToolCall     *ToolCall         `json:"tool_call,omitempty"`
	ToolResponse *ToolCallResponse `json:"tool_response,omitempty"`
}

type messageJSON struct {
	Role  Role       `json:"role"`
	Parts []partJSON `json:"parts"`
}

func encodePart(p ContentPart) (partJSON, error) {
	switch v := p.(type) {
	case TextContent:
		return partJSON{Type: partText, Text: v.Text}, nil
	case ImageURLContent:
		return partJSON{Type: partImageURL, ImageURL: &v}, nil
	case BinaryContent:
		return partJSON{Type: partBinary, Binary: &v}, nil
	case ToolCall:
		return partJSON{Type: partToolCall, ToolCall: &v}, nil
	case ToolCallResponse:
		return partJSON{Type: partToolResponse, ToolResponse: &v}, nil
	}
	return partJSON{}, errors.Wrapf(ErrUnknownPart, "%T", p)
}

func (p partJSON) decode() (ContentPart, error) {
	switch {
	case p.Type == partText:
		return TextContent{Text: p.Text}, nil
	case p.Type == partImageURL && p.ImageURL != nil:
		return *p.ImageURL, nil
	case p.Type == partBinary && p.Binary != nil:
		return *p.Binary, nil
	case p.Type == partToolCall && p.ToolCall != nil:
		return *p.ToolCall, nil
	case p.Type == partToolResponse && p.ToolResponse != nil:
		return *p.ToolResponse, nil
	}
	return nil, errors.Wrapf(ErrUnknownPart, "%q", p.Type)
}

// MarshalJSON encodes the message with typed parts.
func (m Message) MarshalJSON() ([]byte, error) {
	mj := messageJSON{
		Role:  m.Role,
		Parts: make([]partJSON, 0, len(m.Parts)),
	}
	for _, p := range m.Parts {
		pj, err := encodePart(p)
		if err != nil {
			return nil, err
		}
		mj.Parts = append(mj.Parts, pj)
	}
	return json.Marshal(mj)
}

// UnmarshalJSON decodes the message produced by MarshalJSON.
func (m *Message) UnmarshalJSON(data []byte) error {
	var mj messageJSON
	if err := json.Unmarshal(data, &mj); err != nil {
		return errors.WithStack(err)
	}
	m.Role = mj.Role
	m.Parts = make([]ContentPart, 0, len(mj.Parts))
	for _, pj := range mj.Parts {
		p, err := pj.decode()
		if err != nil {
			return err
		}
		m.Parts = append(m.Parts, p)
	}
	return nil
}
