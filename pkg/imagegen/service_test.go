package imagegen

import (
	"context"
	"errors"
	"testing"
)

// MockService is a test double that satisfies the Service interface.
type MockService struct {
	GenerateFunc func(ctx context.Context, req *Request) (*Response, error)
}

func (m *MockService) Generate(ctx context.Context, req *Request) (*Response, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	resp := &Response{RequestedCount: req.Count}
	for i := 0; i < req.Count; i++ {
		resp.Images = append(resp.Images, Image{MimeType: "image/png", Data: []byte{byte(i)}})
	}
	return resp, nil
}

func TestServiceInterface(t *testing.T) {
	var svc Service = &MockService{}
	resp, err := svc.Generate(context.Background(), &Request{Parts: []Part{{Text: "a cat"}}, Count: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Images) != 2 {
		t.Errorf("expected 2 images, got %d", len(resp.Images))
	}
}

func TestRequestValidate(t *testing.T) {
	img := &Blob{MimeType: "image/png", Data: []byte{1}}
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{"parts", Request{Parts: []Part{{Text: "x"}}, Count: 1}, false},
		{"parts with image", Request{Parts: []Part{{Text: "x"}}, Count: 1, InputImage: img}, false},
		{"contents", Request{Contents: []Content{{Role: RoleUser, Parts: []Part{{Text: "x"}}}}, Count: 1}, false},
		{"both", Request{Parts: []Part{{Text: "x"}}, Contents: []Content{{Role: RoleUser}}, Count: 1}, true},
		{"neither", Request{Count: 1}, true},
		{"contents with image", Request{Contents: []Content{{Role: RoleUser}}, Count: 1, InputImage: img}, true},
		{"zero count", Request{Parts: []Part{{Text: "x"}}}, true},
		{"count too large", Request{Parts: []Part{{Text: "x"}}, Count: 9}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSlotsCorrelatesImagesWithAttempts(t *testing.T) {
	resp := &Response{
		RequestedCount: 3,
		Images: []Image{
			{Data: []byte("first")},
			{Data: []byte("third")},
		},
		PartialErrors: []AttemptError{{Attempt: 2, Message: "blocked by safety filter"}},
	}

	slots := resp.Slots()
	if len(slots) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(slots))
	}
	if slots[0].Image == nil || string(slots[0].Image.Data) != "first" {
		t.Errorf("slot 1 = %+v", slots[0])
	}
	if slots[1].Image != nil || slots[1].Err != "blocked by safety filter" {
		t.Errorf("slot 2 = %+v", slots[1])
	}
	if slots[2].Image == nil || string(slots[2].Image.Data) != "third" {
		t.Errorf("slot 3 = %+v", slots[2])
	}
}

func TestSlotsUnderDelivery(t *testing.T) {
	resp := &Response{
		RequestedCount: 3,
		Images:         []Image{{Data: []byte("only")}},
	}
	slots := resp.Slots()
	if slots[0].Image == nil {
		t.Error("first attempt should take the only image")
	}
	for _, s := range slots[1:] {
		if s.Image != nil || s.Err == "" {
			t.Errorf("attempt %d should fail with a generic message, got %+v", s.Attempt, s)
		}
	}
}

func TestErrContinuationTokenWraps(t *testing.T) {
	err := errors.Join(errors.New("status 400"), ErrContinuationToken)
	if !errors.Is(err, ErrContinuationToken) {
		t.Error("expected wrapped continuation token error to match")
	}
}
