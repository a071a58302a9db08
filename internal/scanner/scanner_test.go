package scanner

import (
	"reflect"
	"testing"
)

func TestClassify_DefaultMarkers(t *testing.T) {
	table := DefaultTable()

	tests := []struct {
		name string
		line string
		want []Signal
	}{
		{
			name: "spawn area",
			line: "[12:00:01] [Worker-Main-5/INFO]: Preparing spawn area: 42%",
			want: []Signal{{Event: WorldGenerationStarted}},
		},
		{
			name: "world loaded",
			line: "[12:00:09] [Server thread/INFO]: Time elapsed: 8123 ms",
			want: []Signal{{Event: WorldGenerationFinished}},
		},
		{
			name: "ready",
			line: `[12:00:09] [Server thread/INFO]: Done (9.1s)! For help, type "help"`,
			want: []Signal{{Event: WorkerReady}},
		},
		{
			name: "stop accepted",
			line: "[12:10:00] [Server thread/INFO]: Stopping server",
			want: []Signal{{Event: StopAccepted}},
		},
		{
			name: "stop completed",
			line: "[SERVER STOPPED] 2024-05-01 12:10:03",
			want: []Signal{{Event: StopCompleted}},
		},
		{
			name: "no marker",
			line: "[12:00:00] [main/INFO]: Loading mods",
			want: nil,
		},
		{
			name: "empty",
			line: "",
			want: nil,
		},
		{
			name: "case sensitive",
			line: "stopping server",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := table.Classify(tt.line)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Classify(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}

func TestClassify_MultipleEvents(t *testing.T) {
	table := DefaultTable()
	line := `Time elapsed: 10 ms; For help, type "help"; Stopping server`

	got := table.Classify(line)
	want := []Signal{
		{Event: WorldGenerationFinished},
		{Event: WorkerReady},
		{Event: StopAccepted},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Classify() = %v, want %v", got, want)
	}
}

func TestClassify_Deterministic(t *testing.T) {
	table := DefaultTable()
	line := `Preparing spawn area; length-responded.gl.joinmc.link => 127.0.0.1:25565`

	first := table.Classify(line)
	for i := 0; i < 10; i++ {
		if got := table.Classify(line); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d: Classify() = %v, want %v", i, got, first)
		}
	}
}

func TestEndpoint(t *testing.T) {
	table := DefaultTable()

	tests := []struct {
		name   string
		line   string
		want   string
		wantOK bool
	}{
		{
			name:   "joinmc link",
			line:   "length-responded.gl.joinmc.link => 127.0.0.1:25565 (minecraft-java)",
			want:   "length-responded.gl.joinmc.link",
			wantOK: true,
		},
		{
			name:   "https url",
			line:   "tunnel https://abc.playit.gg => 127.0.0.1:25565",
			want:   "https://abc.playit.gg",
			wantOK: true,
		},
		{
			name:   "first match wins",
			line:   "a.joinmc.link   b.joinmc.link => x",
			want:   "a.joinmc.link",
			wantOK: true,
		},
		{
			name:   "no trigger",
			line:   "length-responded.gl.joinmc.link 127.0.0.1:25565",
			wantOK: false,
		},
		{
			name:   "trigger without hint",
			line:   "local => 127.0.0.1:25565",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := table.Endpoint(tt.line)
			if ok != tt.wantOK {
				t.Fatalf("Endpoint(%q) ok = %v, want %v", tt.line, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("Endpoint(%q) = %q, want %q", tt.line, got, tt.want)
			}
		})
	}
}

func TestClassify_EndpointSignal(t *testing.T) {
	table := DefaultTable()

	got := table.Classify("length-responded.gl.joinmc.link => 127.0.0.1:25565 (minecraft-java)")
	want := []Signal{{Event: EndpointDiscovered, Endpoint: "length-responded.gl.joinmc.link"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Classify() = %v, want %v", got, want)
	}

	if got := table.Classify("length-responded.gl.joinmc.link"); got != nil {
		t.Errorf("Classify() without trigger = %v, want nil", got)
	}
}

func TestClassify_CustomTable(t *testing.T) {
	table := Table{
		Markers: []Marker{
			{Substring: "Done (", Event: WorkerReady},
		},
	}

	got := table.Classify("Done (3.2s)!")
	if len(got) != 1 || got[0].Event != WorkerReady {
		t.Errorf("Classify() = %v, want [worker_ready]", got)
	}
	if got := table.Classify(`For help, type "help"`); got != nil {
		t.Errorf("Classify() of default marker = %v, want nil", got)
	}
	if got := table.Classify("x.joinmc.link => y"); got != nil {
		t.Errorf("Classify() with no trigger configured = %v, want nil", got)
	}
}

func TestTable_Validate(t *testing.T) {
	if err := DefaultTable().Validate(); err != nil {
		t.Errorf("DefaultTable().Validate() = %v, want nil", err)
	}

	tests := []struct {
		name  string
		table Table
	}{
		{"empty substring", Table{Markers: []Marker{{Substring: "", Event: WorkerReady}}}},
		{"unknown event", Table{Markers: []Marker{{Substring: "x", Event: "bogus"}}}},
		{"endpoint as marker", Table{Markers: []Marker{{Substring: "x", Event: EndpointDiscovered}}}},
		{"trigger without hints", Table{EndpointTrigger: "=>"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.table.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestParseEvent(t *testing.T) {
	got, err := ParseEvent(" Worker_Ready ")
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if got != WorkerReady {
		t.Errorf("ParseEvent() = %q, want %q", got, WorkerReady)
	}
	if _, err := ParseEvent("nope"); err == nil {
		t.Error("ParseEvent(nope) error = nil, want error")
	}
}
