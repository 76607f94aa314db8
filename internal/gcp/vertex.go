package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
)

// --- Extraction Model Prompts ---
const ExtractionSystemPrompt = "You are a document transcription engine. You read scanned pages, photos and PDFs, including handwriting, and reproduce their text, formatting and table structure exactly. You never describe images."
const ExtractionUserPrompt = `Analyse this document, including any handwriting, and extract its text content and structure, including tables.

Follow these rules precisely:
1.  Keep the original language of the document. Do not translate.
2.  Return a JSON array of content blocks in reading order. Each block has a "type" property that is either "paragraph" or "table".
3.  A "paragraph" block has a "content" property holding "runs": an array of text runs, each with "text" and optional "isBold" and "isItalic" flags.
4.  A "table" block has a "rows" property. Each row has "cells", and each cell has a "content" property with the formatted runs of that cell.
5.  Do not describe images. Focus on copying the text, handwriting, formatting and table structure accurately.`

// --- Chat Model Prompts ---
const ChatSystemPrompt = "You are a helpful assistant. Answer the user's questions using only the document text provided at the start of the conversation. Do not use outside knowledge. If the answer is not in the document, say that you could not find the information in the given document. Answer in the language of the user's question."
const ChatGroundingAck = "Understood, I have the document. I will only use this context to answer your questions. What would you like to know?"

// VertexClient holds the pre-configured generative models for document capture.
type VertexClient struct {
	ExtractionModel *genai.GenerativeModel
	ChatModel       *genai.GenerativeModel
	baseClient      *genai.Client
}

// VertexOptions selects models and output limits.
type VertexOptions struct {
	ExtractionModel string
	ChatModel       string
	MaxOutputTokens int
}

// NewVertexClient creates a new client holding both models.
func NewVertexClient(ctx context.Context, projectID, region string, opts VertexOptions) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if opts.ExtractionModel == "" || opts.ChatModel == "" {
		return nil, fmt.Errorf("NewVertexClient: model names cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	// --- Configure the extraction model ---
	extractionModel := baseClient.GenerativeModel(opts.ExtractionModel)
	extractionModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(ExtractionSystemPrompt)},
	}
	extractionModel.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   ContentBlocksSchema(),
		Temperature:      genai.Ptr[float32](0.0),
	}
	if opts.MaxOutputTokens > 0 {
		extractionModel.SetMaxOutputTokens(int32(opts.MaxOutputTokens))
	}
	extractionModel.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}

	// --- Configure the chat model ---
	chatModel := baseClient.GenerativeModel(opts.ChatModel)
	chatModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(ChatSystemPrompt)},
	}

	return &VertexClient{
		ExtractionModel: extractionModel,
		ChatModel:       chatModel,
		baseClient:      baseClient,
	}, nil
}

// SendChat replays history into a fresh session and sends parts as the next
// user turn. Sessions are never reused between calls.
func (c *VertexClient) SendChat(ctx context.Context, history []*genai.Content, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	session := c.ChatModel.StartChat()
	session.History = history
	return session.SendMessage(ctx, parts...)
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

// ContentBlocksSchema is the response schema handed to the extraction model:
// an array of paragraph or table blocks made of styled runs.
func ContentBlocksSchema() *genai.Schema {
	return &genai.Schema{
		Type:        genai.TypeArray,
		Description: "An array of content blocks, each either a paragraph or a table.",
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"type": {
					Type:        genai.TypeString,
					Enum:        []string{"paragraph", "table"},
					Description: "The kind of content block.",
				},
				"content": paragraphSchema("The paragraph text. Present only when type is 'paragraph'."),
				"rows": {
					Type:        genai.TypeArray,
					Description: "The table rows. Present only when type is 'table'.",
					Items: &genai.Schema{
						Type: genai.TypeObject,
						Properties: map[string]*genai.Schema{
							"cells": {
								Type:        genai.TypeArray,
								Description: "The cells of one row.",
								Items: &genai.Schema{
									Type: genai.TypeObject,
									Properties: map[string]*genai.Schema{
										"content": paragraphSchema("The formatted text of the cell."),
									},
									Required: []string{"content"},
								},
							},
						},
						Required: []string{"cells"},
					},
				},
			},
			Required: []string{"type"},
		},
	}
}

func paragraphSchema(description string) *genai.Schema {
	return &genai.Schema{
		Type:        genai.TypeObject,
		Description: description,
		Properties: map[string]*genai.Schema{
			"runs": {
				Type:        genai.TypeArray,
				Description: "The text runs that make up the paragraph.",
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"text":     {Type: genai.TypeString, Description: "The text content."},
						"isBold":   {Type: genai.TypeBoolean, Description: "Whether the text is bold."},
						"isItalic": {Type: genai.TypeBoolean, Description: "Whether the text is italic."},
					},
					Required: []string{"text"},
				},
			},
		},
		Required: []string{"runs"},
	}
}
