package prompt

// Initial asks for the first pass over a recording.
const Initial = `Transcribe the attached audio recording "{{title}}" from {{show}}.
The recording is {{duration}} long. Known speakers: {{speakers}}.
Write one line per utterance in the form "[HH:MM:SS] Speaker: text".
Transcribe as far as you can; do not summarize.`

// Continuation asks the model to resume where the previous response stopped.
const Continuation = `You are continuing a transcript of the recording "{{title}}" from {{show}}.
The recording is {{duration}} long and the transcript so far ends at {{from}}.
Known speakers: {{speakers}}.
The last lines transcribed were:
{{excerpt}}

Continue transcribing from {{from}} onward. Do not repeat lines before {{from}}.
Write one line per utterance in the form "[HH:MM:SS] Speaker: text".`
