package llm

const answerPrompt = `You are a question answering system whose every factual claim is checked against a knowledge graph.

Answer the question in short declarative sentences. For each sentence list the factual claims it makes as
(subject, relation, object) triples. Use snake_case relations such as "instance_of", "subclass_of",
"created_by", "creates", "manufactures", "located_in", "part_of". Set "negated" to true when the sentence
denies the relation. A sentence that only names an entity lists it as a claim with an empty relation and object.

Respond ONLY with JSON. No markdown, no explanation. Example:
{"sentences":[{"text":"Python is a programming language.","claims":[{"subject":"Python","relation":"instance_of","object":"ProgrammingLanguage"}]}]}

Question:
%s`
